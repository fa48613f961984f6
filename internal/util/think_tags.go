package util

import (
	"regexp"
	"strings"
)

// reasoningBlocks match the reasoning sections some models emit ahead of
// their answer: <think>, <thinking>, <reasoning> and the Chinese <思考>.
var reasoningBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
	regexp.MustCompile(`(?s)<思考>.*?</思考>`),
}

// unclosedThink matches a reasoning block cut off by the token limit
var unclosedThink = regexp.MustCompile(`(?is)^\s*<think(?:ing)?>.*$`)

// ContainsThinkTags reports whether response carries a reasoning block
func ContainsThinkTags(response string) bool {
	for _, re := range reasoningBlocks {
		if re.MatchString(response) {
			return true
		}
	}
	return false
}

// StripThinkTags removes reasoning blocks from a model response. A response
// that opens a block and never closes it has no answer and strips to "".
func StripThinkTags(response string) string {
	stripped := response
	for _, re := range reasoningBlocks {
		stripped = re.ReplaceAllString(stripped, "")
	}
	stripped = unclosedThink.ReplaceAllString(stripped, "")
	if stripped == response {
		return response
	}
	return strings.TrimSpace(stripped)
}

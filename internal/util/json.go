package util

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// fencedBlockRegex matches the first fenced block with any info string.
// Group 1 is the info string, group 2 the body.
var fencedBlockRegex = regexp.MustCompile("(?s)```(\\w*)?\\s*\\n?(.*?)\\n?\\s*```")

// ExtractFenced returns the trimmed body of the first fenced block in s.
// ok is false when s holds no fenced block or the block is empty.
func ExtractFenced(s string) (body string, ok bool) {
	matches := fencedBlockRegex.FindStringSubmatch(s)
	if len(matches) < 3 || strings.TrimSpace(matches[2]) == "" {
		return "", false
	}
	return strings.TrimSpace(matches[2]), true
}

// ExtractCode returns the code payload of a generation response: the body of
// the first fenced block, or the trimmed raw text when no block is present.
// Reasoning tags emitted by some models are removed first.
func ExtractCode(s string) string {
	s = StripThinkTags(s)
	if body, ok := ExtractFenced(s); ok {
		return body
	}
	return strings.TrimSpace(s)
}

// ExtractJSON extracts the outermost JSON value from a response that may wrap
// it in a fenced block or surrounding prose. Whichever of an array or object
// opens first wins.
func ExtractJSON(s string) string {
	if body, ok := ExtractFenced(s); ok {
		s = body
	} else {
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}
	open, closeCh := rune('['), rune(']')
	if s[start] == '{' {
		open, closeCh = '{', '}'
	}
	if end := findMatchingBracket(s, start, open, closeCh); end != -1 {
		return s[start : end+1]
	}

	// Unbalanced: hand back from the opener so the decoder reports the error
	return s[start:]
}

// findMatchingBracket finds the matching closing bracket for an opening bracket
// using proper bracket matching that handles escaped quotes and strings
// Returns -1 if no matching bracket is found
func findMatchingBracket(s string, startPos int, openChar, closeChar rune) int {
	count := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := rune(s[i])

		if escaped {
			escaped = false
			continue
		}

		if ch == '\\' {
			escaped = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		// Only count brackets outside of strings
		if !inString {
			if ch == openChar {
				count++
			} else if ch == closeChar {
				count--
				if count == 0 {
					return i
				}
			}
		}
	}

	return -1
}

// SanitizeJSON fixes common JSON issues from LLM responses
// Specifically handles unescaped newlines in string values
func SanitizeJSON(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}

		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		// Replace literal newlines in strings with \n
		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}

// UnmarshalLenient decodes raw into v, retrying once through SanitizeJSON
// when the model left raw newlines inside string values. The original
// syntax error is returned if the retry fails too.
func UnmarshalLenient(raw string, v any) error {
	err := json.Unmarshal([]byte(raw), v)
	var syntaxErr *json.SyntaxError
	if err == nil || !errors.As(err, &syntaxErr) {
		return err
	}
	sanitized := SanitizeJSON(raw)
	if sanitized == raw {
		return err
	}
	if json.Unmarshal([]byte(sanitized), v) != nil {
		return err
	}
	return nil
}

package api

import "strings"

// ChatCompletionRequest represents an OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model            string            `json:"model"`
	Messages         []Message         `json:"messages"`
	Temperature      float64           `json:"temperature,omitempty"`
	TopP             float64           `json:"top_p,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	N                int               `json:"n,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	ResponseFormat   *ResponseFormat   `json:"response_format,omitempty"`
	WebSearchOptions *WebSearchOptions `json:"web_search_options,omitempty"`
	SafetySettings   []SafetySetting   `json:"safety_settings,omitempty"`
}

// ResponseFormat specifies the format of the model's output
type ResponseFormat struct {
	Type string `json:"type"` // "text" or "json_object"
}

// WebSearchOptions enables provider-side search augmentation
type WebSearchOptions struct {
	SearchContextSize string `json:"search_context_size,omitempty"`
}

// SafetySetting is a provider safety threshold for one harm category
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Message represents a single message in the chat.
// Content is a string or a []ContentPart.
type Message struct {
	Role             string       `json:"role"`
	Content          any          `json:"content"`
	ReasoningContent string       `json:"reasoning_content,omitempty"`
	Refusal          string       `json:"refusal,omitempty"`
	Annotations      []Annotation `json:"annotations,omitempty"`
}

// Text returns the textual content of the message
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []ContentPart:
		var b strings.Builder
		for _, p := range c {
			b.WriteString(p.Text)
		}
		return b.String()
	case []any:
		var b strings.Builder
		for _, p := range c {
			if part, ok := p.(map[string]any); ok {
				if text, ok := part["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String()
	}
	return ""
}

// ContentPart is one element of a multi-part user message
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "video_url"
	Text     string    `json:"text,omitempty"`
	VideoURL *MediaURL `json:"video_url,omitempty"`
}

// MediaURL references remote media attached to a message
type MediaURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// VideoPart builds a video reference content part
func VideoPart(url string) ContentPart {
	return ContentPart{Type: "video_url", VideoURL: &MediaURL{URL: url}}
}

// Annotation is a message annotation; url_citation carries grounding sources
type Annotation struct {
	Type        string       `json:"type"`
	URLCitation *URLCitation `json:"url_citation,omitempty"`
}

// URLCitation is a web source the model cited
type URLCitation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ChatCompletionResponse represents an OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID        string   `json:"id"`
	Object    string   `json:"object"`
	Created   int64    `json:"created"`
	Model     string   `json:"model"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage"`
	Citations []string `json:"citations,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the payload of an API error
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

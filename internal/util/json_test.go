package util

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain array",
			input: `["a", "b", "c"]`,
			want:  `["a", "b", "c"]`,
		},
		{
			name:  "array in markdown",
			input: "```json\n[\"a\", \"b\", \"c\"]\n```",
			want:  `["a", "b", "c"]`,
		},
		{
			name:  "array with text before",
			input: `Here are the results: ["a", "b", "c"] hope that helps`,
			want:  `["a", "b", "c"]`,
		},
		{
			name:  "object wins when it opens first",
			input: `{"spec": "see [this link](https://x)"}`,
			want:  `{"spec": "see [this link](https://x)"}`,
		},
		{
			name:  "quiz wrapper object",
			input: "```\n{\"quiz\": [{\"question\": \"q\"}]}\n```",
			want:  `{"quiz": [{"question": "q"}]}`,
		},
		{
			name:  "braces inside strings",
			input: `{"a": "}{", "b": 1} trailing`,
			want:  `{"a": "}{", "b": 1}`,
		},
		{
			name:  "no json",
			input: "  not a JSON array  ",
			want:  "not a JSON array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.input)
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON_UnbalancedFailsToDecode(t *testing.T) {
	got := ExtractJSON(`prefix {"field1": "value1"`)
	var v any
	if err := json.Unmarshal([]byte(got), &v); err == nil {
		t.Errorf("expected decode error for unbalanced input %q", got)
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "html fence",
			input: "Here you go:\n```html\n<!DOCTYPE html><html></html>\n```\nEnjoy!",
			want:  "<!DOCTYPE html><html></html>",
		},
		{
			name:  "bare fence",
			input: "```\n<div>hi</div>\n```",
			want:  "<div>hi</div>",
		},
		{
			name:  "first of two fences",
			input: "```html\n<p>one</p>\n```\n```js\nalert(2)\n```",
			want:  "<p>one</p>",
		},
		{
			name:  "no fence falls back to trimmed text",
			input: "  \n<html><body>raw</body></html>\n  ",
			want:  "<html><body>raw</body></html>",
		},
		{
			name:  "reasoning removed before extraction",
			input: "<think>plan the ```layout```</think>```html\n<main></main>\n```",
			want:  "<main></main>",
		},
		{
			name:  "empty fence falls back",
			input: "```html\n```",
			want:  "```html\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCode(tt.input); got != tt.want {
				t.Errorf("ExtractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeJSON(t *testing.T) {
	input := "{\"spec\": \"line one\nline two\r\nline three\"}"
	sanitized := SanitizeJSON(input)

	var out struct {
		Spec string `json:"spec"`
	}
	if err := json.Unmarshal([]byte(sanitized), &out); err != nil {
		t.Fatalf("sanitized JSON failed to parse: %v (%q)", err, sanitized)
	}
	if out.Spec != "line one\nline two\nline three" {
		t.Errorf("Spec = %q", out.Spec)
	}

	// Newlines outside strings are left alone
	if got := SanitizeJSON("{\n\"a\": 1\n}"); got != "{\n\"a\": 1\n}" {
		t.Errorf("SanitizeJSON changed structural whitespace: %q", got)
	}
}

func TestUnmarshalLenient(t *testing.T) {
	type refined struct {
		Spec string `json:"spec"`
	}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"valid", `{"spec": "# Title\nBody"}`, "# Title\nBody", false},
		{"raw newlines in markdown", "{\"spec\": \"# Title\n\n- point one\r\n- point two\"}", "# Title\n\n- point one\n- point two", false},
		{"broken beyond newlines", `{"spec": "unterminated`, "", true},
		{"wrong type is not retried", `{"spec": 3}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out refined
			err := UnmarshalLenient(tt.raw, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalLenient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && out.Spec != tt.want {
				t.Errorf("Spec = %q, want %q", out.Spec, tt.want)
			}
		})
	}
}

package util

import "testing"

func TestStripThinkTags(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		hasBlocks bool
	}{
		{
			name:      "think block before spec",
			input:     "<think>The learner is 12</think>\n# Fractions Explorer\nDrag the slider.",
			want:      "# Fractions Explorer\nDrag the slider.",
			hasBlocks: true,
		},
		{
			name:      "thinking block mixed case",
			input:     "<Thinking>plan the quiz</Thinking>[{\"question\":\"q\"}]",
			want:      `[{"question":"q"}]`,
			hasBlocks: true,
		},
		{
			name:      "reasoning block",
			input:     "<reasoning>step 1\nstep 2</reasoning>Final spec",
			want:      "Final spec",
			hasBlocks: true,
		},
		{
			name:      "chinese block",
			input:     "<思考>让我想想</思考>答案",
			want:      "答案",
			hasBlocks: true,
		},
		{
			name:      "several blocks",
			input:     "<think>a</think>one <think>b</think>two",
			want:      "one two",
			hasBlocks: true,
		},
		{
			name:  "unclosed block",
			input: "<think>ran out of tokens while",
			want:  "",
		},
		{
			name:  "plain text untouched",
			input: "  # Spec with padding  ",
			want:  "  # Spec with padding  ",
		},
		{
			name:  "tag inside code is kept",
			input: "<html><body>think</body></html>",
			want:  "<html><body>think</body></html>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripThinkTags(tt.input); got != tt.want {
				t.Errorf("StripThinkTags() = %q, want %q", got, tt.want)
			}
			if got := ContainsThinkTags(tt.input); got != tt.hasBlocks {
				t.Errorf("ContainsThinkTags() = %v, want %v", got, tt.hasBlocks)
			}
		})
	}
}

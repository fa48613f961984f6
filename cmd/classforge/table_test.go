package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/pkg/models"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Tier", "Credits"},
		[][]string{{"simple", "15"}, {"advanced"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	for _, want := range []string{"Tier", "Credits", "simple", "15", "advanced", "╭"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderTable() missing %q:\n%s", want, out)
		}
	}

	if got := renderTable(nil, [][]string{{"x"}}, nil); got != "" {
		t.Errorf("renderTable() without headers = %q, want empty", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"provider unavailable", 9, "provider…"},
		{"分数分数分数", 4, "分数分…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestIsTerminalNonFile(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Error("isTerminal(buffer) = true, want false")
	}
}

func TestDescribeGateError(t *testing.T) {
	denied := fmt.Errorf("submit: %w", &credits.InsufficientCreditError{Operation: credits.OpGenerate, Required: 75, Balance: 10})
	msg := describeGateError("generation", denied).Error()
	if !strings.Contains(msg, "needs 75 credits") || !strings.Contains(msg, "balance is 10") {
		t.Errorf("describeGateError() = %q", msg)
	}

	other := errors.New("topic or video is required")
	err := describeGateError("generation", other)
	if !errors.Is(err, other) {
		t.Errorf("describeGateError() should wrap %v, got %v", other, err)
	}
}

func TestPrintRunSummary(t *testing.T) {
	run := models.GenerationRun{
		ID:           "run-1",
		Stage:        models.StageReady,
		Spec:         "# Fractions",
		Code:         "<html></html>",
		LastArtifact: models.ArtifactMaterials,
		Results: map[models.MaterialKind]models.MaterialResult{
			models.MaterialQuiz: {
				Kind:   models.MaterialQuiz,
				Status: models.MaterialReady,
				Quiz:   []models.QuizItem{{Question: "q", Options: []string{"a", "b"}, CorrectAnswer: "a"}},
			},
			models.MaterialHandout: {
				Kind:   models.MaterialHandout,
				Status: models.MaterialFailed,
				Error:  "content blocked",
			},
		},
	}

	var buf bytes.Buffer
	printRunSummary(&buf, run, []string{"artifacts/spec.md"}, true, 140)
	out := buf.String()

	for _, want := range []string{"run-1", "1 questions", "content blocked", "wrote artifacts/spec.md", "Credits remaining: 140"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printRunSummary(&buf, run, nil, false, 0)
	if strings.Contains(buf.String(), "Credits remaining") {
		t.Error("summary should omit credits when the gate is disabled")
	}
}

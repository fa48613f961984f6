package writer

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandler(t *testing.T) {
	var text, debug bytes.Buffer
	logger := slog.New(&teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&text, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}).With("component", "test")

	logger.Debug("Only in debug sink")
	logger.Info("In both sinks", "run_id", "r1")

	if strings.Contains(text.String(), "Only in debug sink") {
		t.Error("info handler received a debug record")
	}
	if !strings.Contains(text.String(), "run_id=r1") || !strings.Contains(text.String(), "component=test") {
		t.Errorf("text sink = %q", text.String())
	}
	if strings.Count(debug.String(), "\n") != 2 || !strings.Contains(debug.String(), `"component":"test"`) {
		t.Errorf("json sink = %q", debug.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

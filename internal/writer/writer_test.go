package writer

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lamim/classforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSessionManager(t *testing.T) {
	outputDir := t.TempDir()

	sm, err := NewSessionManager(outputDir, testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	if !strings.HasPrefix(sm.SessionName(), "session_") {
		t.Errorf("SessionName() = %q", sm.SessionName())
	}
	if _, err := os.Stat(sm.GetSessionDir()); err != nil {
		t.Errorf("session directory missing: %v", err)
	}

	resumed, err := NewSessionManager(outputDir, testLogger(), sm.SessionName())
	if err != nil {
		t.Fatalf("resume error = %v", err)
	}
	if resumed.GetSessionDir() != sm.GetSessionDir() {
		t.Errorf("resumed dir = %q, want %q", resumed.GetSessionDir(), sm.GetSessionDir())
	}

	if _, err := NewSessionManager(outputDir, testLogger(), "session_2000-01-01T00-00-00"); err == nil {
		t.Error("expected error for missing session")
	}
	if _, err := NewSessionManager(outputDir, testLogger(), "../elsewhere"); err == nil {
		t.Error("expected error for traversal")
	}
}

func TestSessionManager_BackupConfig(t *testing.T) {
	sm, err := NewSessionManager(t.TempDir(), testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[server]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := sm.BackupConfig(configPath); err != nil {
		t.Fatalf("BackupConfig() error = %v", err)
	}
	data, err := os.ReadFile(sm.GetConfigBackupPath())
	if err != nil || string(data) != "[server]\n" {
		t.Errorf("backup = %q, %v", data, err)
	}
}

func TestInteractionLog_ConcurrentRecords(t *testing.T) {
	sm, err := NewSessionManager(t.TempDir(), testLogger(), "")
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}
	log, err := NewInteractionLog(sm, testLogger())
	if err != nil {
		t.Fatalf("NewInteractionLog() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Record(models.InteractionRecord{
				ID:        "rec",
				RequestID: "req",
				Timestamp: time.Now(),
				Type:      models.InteractionPrompt,
				Model:     "m",
				Data:      map[string]string{"prompt": "hello"},
			})
		}()
	}
	wg.Wait()
	if log.Count() != 20 {
		t.Errorf("Count() = %d, want 20", log.Count())
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(sm.GetInteractionsPath())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.InteractionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 20 {
		t.Errorf("lines = %d, want 20", lines)
	}
}

func TestArtifactWriter_WriteRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	w, err := NewArtifactWriter(dir, testLogger())
	if err != nil {
		t.Fatalf("NewArtifactWriter() error = %v", err)
	}

	run := models.GenerationRun{
		ID:      "run-1",
		Spec:    "# Spec",
		Code:    "<html></html>",
		Sources: []models.Source{{URI: "https://example.com"}},
		Results: map[models.MaterialKind]models.MaterialResult{
			models.MaterialLessonPlan: {Kind: models.MaterialLessonPlan, Status: models.MaterialReady, Text: "# Lesson"},
			models.MaterialHandout:    models.Failed(models.MaterialHandout, "boom"),
			models.MaterialQuiz: {Kind: models.MaterialQuiz, Status: models.MaterialReady, Quiz: []models.QuizItem{
				{Question: "Q?", Options: []string{"a", "b"}, CorrectAnswer: "a"},
			}},
		},
	}

	written, err := w.WriteRun(run)
	if err != nil {
		t.Fatalf("WriteRun() error = %v", err)
	}
	want := []string{SpecFile, AppFile, SourcesFile, LessonPlanFile, QuizFile}
	if strings.Join(written, ",") != strings.Join(want, ",") {
		t.Errorf("written = %v, want %v", written, want)
	}
	if _, err := os.Stat(filepath.Join(dir, HandoutFile)); !os.IsNotExist(err) {
		t.Error("failed handout was exported")
	}

	data, err := os.ReadFile(filepath.Join(dir, QuizFile))
	if err != nil {
		t.Fatal(err)
	}
	var quiz struct {
		Quiz []models.QuizItem `json:"quiz"`
	}
	if err := json.Unmarshal(data, &quiz); err != nil || len(quiz.Quiz) != 1 {
		t.Errorf("quiz.json = %s, %v", data, err)
	}
}

func TestArtifactWriter_EmptyRun(t *testing.T) {
	w, err := NewArtifactWriter(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewArtifactWriter() error = %v", err)
	}
	written, err := w.WriteRun(models.GenerationRun{})
	if err != nil || len(written) != 0 {
		t.Errorf("WriteRun() = %v, %v; want nothing written", written, err)
	}
}

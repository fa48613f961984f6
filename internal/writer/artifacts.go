package writer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lamim/classforge/pkg/models"
)

// Artifact file names inside the export directory
const (
	SpecFile       = "spec.md"
	AppFile        = "app.html"
	LessonPlanFile = "lesson_plan.md"
	HandoutFile    = "handout.md"
	QuizFile       = "quiz.json"
	SourcesFile    = "sources.json"
)

// ArtifactWriter exports the artifacts of a run as plain files
type ArtifactWriter struct {
	dir    string
	logger *slog.Logger
}

// NewArtifactWriter creates the export directory
func NewArtifactWriter(dir string, logger *slog.Logger) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &ArtifactWriter{dir: dir, logger: logger}, nil
}

// Dir returns the export directory
func (w *ArtifactWriter) Dir() string {
	return w.dir
}

// WriteRun writes every artifact the run holds and returns the file names
// written. Materials are only exported once they are ready.
func (w *ArtifactWriter) WriteRun(run models.GenerationRun) ([]string, error) {
	var written []string
	write := func(name string, data []byte) error {
		if err := writeFileAtomic(filepath.Join(w.dir, name), data); err != nil {
			return err
		}
		written = append(written, name)
		return nil
	}

	if strings.TrimSpace(run.Spec) != "" {
		if err := write(SpecFile, []byte(run.Spec)); err != nil {
			return written, err
		}
	}
	if strings.TrimSpace(run.Code) != "" {
		if err := write(AppFile, []byte(run.Code)); err != nil {
			return written, err
		}
	}
	if len(run.Sources) > 0 {
		data, err := json.MarshalIndent(run.Sources, "", "  ")
		if err != nil {
			return written, fmt.Errorf("failed to marshal sources: %w", err)
		}
		if err := write(SourcesFile, data); err != nil {
			return written, err
		}
	}

	for _, kind := range models.AllMaterialKinds {
		res := run.Result(kind)
		if res.Status != models.MaterialReady {
			continue
		}
		name, data, err := materialFile(res)
		if err != nil {
			return written, err
		}
		if err := write(name, data); err != nil {
			return written, err
		}
	}

	w.logger.Info("Exported run artifacts", "run_id", run.ID, "dir", w.dir, "files", len(written))
	return written, nil
}

func materialFile(res models.MaterialResult) (string, []byte, error) {
	switch res.Kind {
	case models.MaterialLessonPlan:
		return LessonPlanFile, []byte(res.Text), nil
	case models.MaterialHandout:
		return HandoutFile, []byte(res.Text), nil
	case models.MaterialQuiz:
		data, err := json.MarshalIndent(map[string]any{"quiz": res.Quiz}, "", "  ")
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal quiz: %w", err)
		}
		return QuizFile, data, nil
	}
	return "", nil, fmt.Errorf("unknown material kind %q", res.Kind)
}

// writeFileAtomic writes through a temp file and rename so readers never see
// a partial file
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

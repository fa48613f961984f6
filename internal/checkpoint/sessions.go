package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lamim/classforge/pkg/models"
)

// SessionSummary describes one stored session for listings
type SessionSummary struct {
	Name         string
	Dir          string
	SessionID    string
	Stage        models.Stage
	LastArtifact models.Artifact
	Topic        string
	Complexity   int
	Materials    int // materials that reached Ready
	Requested    int
	LastSavedAt  time.Time
}

// Summarize condenses a snapshot for display
func Summarize(name, dir string, snap *models.RunSnapshot) SessionSummary {
	s := SessionSummary{
		Name:         name,
		Dir:          dir,
		SessionID:    snap.SessionID,
		Stage:        snap.Run.Stage,
		LastArtifact: snap.Run.LastArtifact,
		Topic:        snap.Run.Basis.TopicOrDetails,
		Complexity:   snap.Run.Basis.Complexity,
		Requested:    len(snap.Run.Materials.Kinds()),
		LastSavedAt:  snap.LastSavedAt,
	}
	if s.Topic == "" {
		s.Topic = snap.Run.Basis.VideoURL
	}
	for _, kind := range snap.Run.Materials.Kinds() {
		if snap.Run.Result(kind).Status == models.MaterialReady {
			s.Materials++
		}
	}
	return s
}

// MaterialProgress returns the share of requested materials that are ready
func (s SessionSummary) MaterialProgress() float64 {
	if s.Requested == 0 {
		return 0.0
	}
	return float64(s.Materials) / float64(s.Requested) * 100.0
}

// ListSessions returns every session under outputDir that holds a snapshot,
// newest first
func ListSessions(outputDir string, logger *slog.Logger) ([]SessionSummary, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var out []SessionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(outputDir, entry.Name())
		snap, err := Load(dir, logger)
		if err != nil {
			logger.Debug("Skipping directory without snapshot", "path", dir, "error", err)
			continue
		}
		out = append(out, Summarize(entry.Name(), dir, snap))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSavedAt.After(out[j].LastSavedAt)
	})
	return out, nil
}

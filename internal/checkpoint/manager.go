package checkpoint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/pkg/models"
)

const SnapshotFilename = "run.json"

// Manager persists the live run of a session with async write support
type Manager struct {
	sessionDir string
	snapshot   *models.RunSnapshot
	mu         sync.RWMutex
	logger     *slog.Logger
	enabled    bool

	// Async write support
	writeChan   chan pendingSnapshot
	writeWg     sync.WaitGroup
	stopWriter  chan struct{}
	closeOnce   sync.Once
	writerError error
	errorMu     sync.Mutex
	writeMu     sync.Mutex // Protects concurrent disk writes

	// seq numbers copies under mu; lastWritten is guarded by writeMu
	seq         uint64
	lastWritten uint64
}

// pendingSnapshot is a copy taken at seq. A write older than the last one
// on disk is skipped.
type pendingSnapshot struct {
	seq  uint64
	snap *models.RunSnapshot
}

// NewManager creates a manager for a new session. A manager with an empty
// sessionDir keeps snapshots in memory only.
func NewManager(sessionDir string, cfg *config.Config, logger *slog.Logger) *Manager {
	return newManager(sessionDir, &models.RunSnapshot{
		SessionID:  uuid.New().String(),
		CreatedAt:  time.Now(),
		ConfigHash: computeConfigHash(cfg),
		Balance:    -1,
	}, logger)
}

// NewManagerFromSnapshot continues an existing session
func NewManagerFromSnapshot(sessionDir string, snap *models.RunSnapshot, logger *slog.Logger) *Manager {
	return newManager(sessionDir, snap, logger)
}

func newManager(sessionDir string, snap *models.RunSnapshot, logger *slog.Logger) *Manager {
	m := &Manager{
		sessionDir: sessionDir,
		snapshot:   snap,
		logger:     logger.With("component", "checkpoint"),
		enabled:    sessionDir != "",
		writeChan:  make(chan pendingSnapshot, 10), // Buffer up to 10 pending writes
		stopWriter: make(chan struct{}),
	}

	if m.enabled {
		m.startAsyncWriter()
	}
	return m
}

// startAsyncWriter starts the background writer goroutine
func (m *Manager) startAsyncWriter() {
	m.writeWg.Add(1)
	go func() {
		defer m.writeWg.Done()
		for {
			select {
			case pending := <-m.writeChan:
				if err := m.writeSnapshotToDisk(pending); err != nil {
					m.errorMu.Lock()
					m.writerError = err
					m.errorMu.Unlock()
					m.logger.Error("Failed to write snapshot", "error", err)
				}
			case <-m.stopWriter:
				// Drain remaining writes before stopping
				for len(m.writeChan) > 0 {
					pending := <-m.writeChan
					if err := m.writeSnapshotToDisk(pending); err != nil {
						m.logger.Error("Failed to write snapshot during shutdown", "error", err)
					}
				}
				return
			}
		}
	}()
}

// writeSnapshotToDisk writes atomically through a temp file
func (m *Manager) writeSnapshotToDisk(pending pendingSnapshot) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	snap := pending.snap
	if pending.seq <= m.lastWritten {
		m.logger.Debug("Skipping stale snapshot", "seq", pending.seq, "last_written", m.lastWritten, "stage", snap.Run.Stage)
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	snapshotPath := filepath.Join(m.sessionDir, SnapshotFilename)
	tempPath := snapshotPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tempPath, snapshotPath); err != nil {
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	m.lastWritten = pending.seq

	m.logger.Debug("Snapshot saved", "path", snapshotPath, "stage", snap.Run.Stage)
	return nil
}

// Save queues the snapshot for async write
func (m *Manager) Save() error {
	if !m.enabled {
		return nil
	}

	pending := m.nextPending()
	select {
	case m.writeChan <- pending:
		return nil
	default:
		m.logger.Warn("Snapshot write buffer full, writing synchronously")
		return m.writeSnapshotToDisk(pending)
	}
}

// SaveSync performs a synchronous snapshot write
func (m *Manager) SaveSync() error {
	if !m.enabled {
		return nil
	}

	return m.writeSnapshotToDisk(m.nextPending())
}

// nextPending stamps and copies the snapshot under the same lock, so seq
// order matches the order of the recorded state
func (m *Manager) nextPending() pendingSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.snapshot.LastSavedAt = time.Now()
	return pendingSnapshot{seq: m.seq, snap: m.copySnapshot()}
}

func (m *Manager) copySnapshot() *models.RunSnapshot {
	cp := *m.snapshot
	cp.Run = m.snapshot.Run.Clone()
	return &cp
}

// UpdateRun records the live run. Terminal stages are written synchronously.
func (m *Manager) UpdateRun(run models.GenerationRun) error {
	m.mu.Lock()
	m.snapshot.Run = run.Clone()
	m.mu.Unlock()

	if run.Stage.Terminal() {
		return m.SaveSync()
	}
	return m.Save()
}

// UpdateBalance records the credit state shown alongside the run
func (m *Manager) UpdateBalance(identity string, balance int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Identity = identity
	m.snapshot.Balance = balance
}

// UpdateStats applies fn to the session counters
func (m *Manager) UpdateStats(fn func(*models.SessionStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.snapshot.Stats)
}

// SessionID returns the session identifier
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.SessionID
}

// GetSnapshot returns a copy of the current snapshot
func (m *Manager) GetSnapshot() *models.RunSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copySnapshot()
}

// Close stops the async writer and waits for pending writes
func (m *Manager) Close() error {
	if !m.enabled {
		return nil
	}

	m.closeOnce.Do(func() {
		close(m.stopWriter)
		m.writeWg.Wait()
	})

	m.errorMu.Lock()
	defer m.errorMu.Unlock()
	return m.writerError
}

// Load reads a session snapshot from disk
func Load(sessionDir string, logger *slog.Logger) (*models.RunSnapshot, error) {
	snapshotPath := filepath.Join(sessionDir, SnapshotFilename)

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap models.RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	logger.Debug("Snapshot loaded",
		"session_id", snap.SessionID,
		"stage", snap.Run.Stage,
		"run_id", snap.Run.ID)

	return &snap, nil
}

// ValidateSnapshot reports whether a stored snapshot was produced under the
// current model and template configuration
func ValidateSnapshot(snap *models.RunSnapshot, cfg *config.Config) error {
	if expected := computeConfigHash(cfg); snap.ConfigHash != expected {
		return fmt.Errorf("snapshot config mismatch: session was created with different models or templates (hash: %s vs %s)", snap.ConfigHash, expected)
	}
	return nil
}

func computeConfigHash(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	roles := make([]string, 0, len(cfg.Models))
	for role := range cfg.Models {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	h := sha256.New()
	for _, role := range roles {
		mc := cfg.Models[role]
		fmt.Fprintf(h, "%s:%s:%s;", role, mc.BaseURL, mc.ModelName)
	}
	t := cfg.PromptTemplates
	for _, s := range []string{t.SpecFromVideo, t.SpecFromTopic, t.SpecAddendum, t.RefineSpec, t.LessonPlan, t.Handout, t.Quiz} {
		fmt.Fprintf(h, "%d:%s;", len(s), s)
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:8]) // First 8 bytes
}

package writer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/classforge/pkg/models"
)

// InteractionLog appends provider interaction records to a JSONL file. It
// satisfies generation.Observer.
type InteractionLog struct {
	file   *os.File
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewInteractionLog opens the session's interaction log for append
func NewInteractionLog(sessionMgr *SessionManager, logger *slog.Logger) (*InteractionLog, error) {
	path := sessionMgr.GetInteractionsPath()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open interaction log: %w", err)
	}

	logger.Info("Opened interaction log", "path", path)

	return &InteractionLog{
		file:   file,
		logger: logger,
	}, nil
}

// Record writes one record as a JSON line. Write failures are logged; the
// observer contract has no error path.
func (l *InteractionLog) Record(rec models.InteractionRecord) {
	if err := l.write(rec); err != nil {
		l.logger.Warn("Failed to write interaction record", "type", rec.Type, "request_id", rec.RequestID, "error", err)
	}
}

func (l *InteractionLog) write(rec models.InteractionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	l.count++
	return nil
}

// Count returns the number of records written since open
func (l *InteractionLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close syncs and closes the log file
func (l *InteractionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Sync(); err != nil {
		l.logger.Warn("Failed to sync interaction log", "error", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close interaction log: %w", err)
	}

	l.logger.Info("Closed interaction log", "records", l.count)
	return nil
}

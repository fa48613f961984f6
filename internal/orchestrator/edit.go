package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/pkg/models"
)

// Ticker delivers countdown ticks
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker with the given period
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// EditSession is a snapshot of the open manual edit
type EditSession struct {
	ID        uint64    `json:"id"`
	RunID     string    `json:"run_id"`
	Draft     string    `json:"draft"`
	Original  string    `json:"original"`
	Countdown int       `json:"countdown"`
	OpenedAt  time.Time `json:"opened_at"`
}

type editSession struct {
	id        uint64
	draft     string
	countdown int
	openedAt  time.Time
	ticker    Ticker
	stop      chan struct{}
}

// BeginEdit opens a manual edit of the current specification and starts its
// countdown. The edit cost is previewed but not debited; a session is refused
// when the balance could not cover the save.
func (o *Orchestrator) BeginEdit(ctx context.Context) (EditSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return EditSession{}, ErrClosed
	}
	if err := o.requireSpecLocked("edit"); err != nil {
		return EditSession{}, err
	}
	if o.edit != nil {
		return EditSession{}, ErrEditInProgress
	}

	if o.account != nil {
		op := credits.Operation{Kind: credits.OpEdit}
		d, err := o.account.Check(ctx, op)
		if err != nil {
			return EditSession{}, err
		}
		if !d.Allowed {
			o.publishDeniedLocked(op.Kind, d.Required, d.Balance)
			return EditSession{}, &credits.InsufficientCreditError{Operation: op.Kind, Required: d.Required, Balance: d.Balance}
		}
	}

	o.editSeq++
	s := &editSession{
		id:        o.editSeq,
		draft:     o.run.Spec,
		countdown: o.countdown,
		openedAt:  time.Now(),
		ticker:    o.newTicker(o.tickInterval),
		stop:      make(chan struct{}),
	}
	o.edit = s

	o.timers.Add(1)
	go o.runCountdown(s)

	o.events.publish(runEvent(o.run, EventEditStarted, func(e *Event) { e.Countdown = intPtr(s.countdown) }))
	o.logger.Info("Edit session opened", "run_id", o.run.ID, "edit", s.id, "countdown", s.countdown)
	return o.editViewLocked(s), nil
}

// UpdateDraft replaces the draft text of the open session
func (o *Orchestrator) UpdateDraft(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.edit == nil {
		return ErrNoEditSession
	}
	o.edit.draft = text
	return nil
}

// SaveEdit commits the draft. An unchanged draft closes the session without
// charge; otherwise the edit cost is debited and code generation restarts
// from the edited specification. A denied debit leaves the session open.
func (o *Orchestrator) SaveEdit(ctx context.Context) (models.GenerationRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.GenerationRun{}, ErrClosed
	}
	s := o.edit
	if s == nil {
		return o.run.Clone(), ErrNoEditSession
	}

	draft := strings.TrimSpace(s.draft)
	if draft == strings.TrimSpace(o.run.Spec) {
		o.closeEditLocked(EditClosedUnchanged)
		return o.run.Clone(), nil
	}
	if draft == "" {
		return o.run.Clone(), ErrEmptyDraft
	}
	if err := o.requireSpecLocked("edit"); err != nil {
		return o.run.Clone(), err
	}

	debit, err := o.authorizeLocked(ctx, credits.Operation{Kind: credits.OpEdit})
	if err != nil {
		return o.run.Clone(), err
	}

	o.closeEditLocked(EditClosedSaved)
	o.epoch++
	if err := o.applyLocked(editSavedInput{spec: draft, epoch: o.epoch}); err != nil {
		return o.run.Clone(), fmt.Errorf("failed to apply edit: %w", err)
	}
	o.updateStatsLocked(func(st *models.SessionStats) {
		st.Edits++
		st.CreditsDebited += debit
	})

	o.logger.Info("Edit saved", "run_id", o.run.ID, "epoch", o.epoch, "debit", debit)
	return o.run.Clone(), nil
}

// CancelEdit discards the open session
func (o *Orchestrator) CancelEdit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.edit == nil {
		return ErrNoEditSession
	}
	o.closeEditLocked(EditClosedCancelled)
	return nil
}

// EditSnapshot returns the open session, if any
func (o *Orchestrator) EditSnapshot() (EditSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.edit == nil {
		return EditSession{}, false
	}
	return o.editViewLocked(o.edit), true
}

func (o *Orchestrator) editViewLocked(s *editSession) EditSession {
	return EditSession{
		ID:        s.id,
		RunID:     o.run.ID,
		Draft:     s.draft,
		Original:  o.run.Spec,
		Countdown: s.countdown,
		OpenedAt:  s.openedAt,
	}
}

func (o *Orchestrator) runCountdown(s *editSession) {
	defer o.timers.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.ticker.C():
			if !o.tick(s) {
				return
			}
		}
	}
}

// tick decrements the countdown of s and expires it at zero. It reports
// whether the session is still open.
func (o *Orchestrator) tick(s *editSession) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.edit != s {
		return false
	}

	s.countdown--
	o.events.publish(runEvent(o.run, EventEditCountdown, func(e *Event) { e.Countdown = intPtr(s.countdown) }))
	if s.countdown <= 0 {
		o.closeEditLocked(EditClosedExpired)
		return false
	}
	return true
}

func (o *Orchestrator) closeEditLocked(reason string) {
	s := o.edit
	if s == nil {
		return
	}
	o.edit = nil
	s.ticker.Stop()
	close(s.stop)

	o.events.publish(runEvent(o.run, EventEditClosed, func(e *Event) { e.Reason = reason }))
	o.logger.Info("Edit session closed", "run_id", o.run.ID, "edit", s.id, "reason", reason)
}

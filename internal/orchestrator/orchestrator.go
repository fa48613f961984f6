package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/classforge/internal/checkpoint"
	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/generation"
	"github.com/lamim/classforge/internal/materials"
	"github.com/lamim/classforge/internal/metrics"
	"github.com/lamim/classforge/internal/util"
	"github.com/lamim/classforge/pkg/models"
)

const (
	// DefaultCountdownTicks is the edit session lifetime in ticks
	DefaultCountdownTicks = 20
	// DefaultTickInterval is the edit countdown period
	DefaultTickInterval = time.Second
)

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithTicker replaces the edit countdown ticker source
func WithTicker(f TickerFactory) Option {
	return func(o *Orchestrator) { o.newTicker = f }
}

// Orchestrator owns the single live generation run. It is the only component
// that mutates run state; every mutation goes through transition.
type Orchestrator struct {
	cfg           *config.Config
	gen           generation.Generator
	materials     *materials.Pipeline
	account       *credits.Account
	checkpointMgr *checkpoint.Manager
	metrics       *metrics.Collector
	logger        *slog.Logger
	newTicker     TickerFactory
	countdown     int
	tickInterval  time.Duration

	mu         sync.Mutex
	run        models.GenerationRun
	epoch      uint64
	stageStart time.Time
	edit       *editSession
	editSeq    uint64
	closed     bool

	events   *hub
	inflight sync.WaitGroup // provider effects
	timers   sync.WaitGroup // edit countdowns
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates an orchestrator. account, checkpointMgr and collector may be
// nil; a nil account disables credit gating.
func New(
	cfg *config.Config,
	gen generation.Generator,
	account *credits.Account,
	checkpointMgr *checkpoint.Manager,
	collector *metrics.Collector,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	logger = logger.With("component", "orchestrator")
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cfg:           cfg,
		gen:           gen,
		materials:     materials.NewPipeline(gen, cfg.PromptTemplates, collector, logger),
		account:       account,
		checkpointMgr: checkpointMgr,
		metrics:       collector,
		logger:        logger,
		newTicker:     NewTimeTicker,
		countdown:     cfg.Editing.CountdownTicks,
		tickInterval:  cfg.Editing.TickInterval(),
		run:           models.GenerationRun{Stage: models.StageIdle, LastArtifact: models.ArtifactNone},
		events:        newHub(logger),
		ctx:           ctx,
		cancel:        cancel,
	}
	if o.countdown <= 0 {
		o.countdown = DefaultCountdownTicks
	}
	if o.tickInterval <= 0 {
		o.tickInterval = DefaultTickInterval
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit starts a new run, superseding any run in flight. The main-run and
// material cost is debited before any provider call; on denial the current
// run is untouched and *credits.InsufficientCreditError is returned.
func (o *Orchestrator) Submit(ctx context.Context, basis models.ContentBasis, request models.MaterialRequest) (models.GenerationRun, error) {
	basis = normalizeBasis(basis)
	if err := ValidateBasis(basis); err != nil {
		return models.GenerationRun{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.GenerationRun{}, ErrClosed
	}

	debit, err := o.authorizeLocked(ctx, credits.GenerateOp(basis, request))
	if err != nil {
		return o.run.Clone(), err
	}

	o.closeEditLocked(EditClosedSuperseded)
	if !o.run.Stage.Terminal() {
		o.logger.Info("Superseding run in flight", "run_id", o.run.ID, "stage", o.run.Stage, "epoch", o.epoch)
	}
	o.epoch++
	run := models.GenerationRun{
		ID:        uuid.New().String(),
		Epoch:     o.epoch,
		Basis:     basis,
		Materials: request,
		StartedAt: time.Now(),
	}
	if err := o.applyLocked(submitInput{run: run}); err != nil {
		return o.run.Clone(), err
	}
	o.updateStatsLocked(func(s *models.SessionStats) {
		s.Runs++
		s.CreditsDebited += debit
	})

	o.logger.Info("Run started",
		"run_id", run.ID,
		"epoch", run.Epoch,
		"video", basis.HasVideo(),
		"complexity", basis.Complexity,
		"materials", len(request.Kinds()),
		"debit", debit)
	return o.run.Clone(), nil
}

// Clear discards the current run and returns to Idle
func (o *Orchestrator) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	o.closeEditLocked(EditClosedSuperseded)
	o.epoch++
	return o.applyLocked(clearInput{epoch: o.epoch})
}

// Restore installs a run saved by an earlier session. It only applies to a
// fresh orchestrator. A run saved mid-generation is restored as failed with
// its last artifact intact; no provider work is relaunched.
func (o *Orchestrator) Restore(run models.GenerationRun) (models.GenerationRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.GenerationRun{}, ErrClosed
	}
	if run.ID == "" {
		return o.run.Clone(), nil
	}

	epoch := o.epoch + 1
	if err := o.applyLocked(restoreInput{run: run, epoch: epoch}); err != nil {
		return o.run.Clone(), err
	}
	o.epoch = epoch
	o.logger.Info("Run restored", "run_id", o.run.ID, "stage", o.run.Stage, "last_artifact", o.run.LastArtifact)
	return o.run.Clone(), nil
}

// Refine regenerates the specification from free-text instructions, then
// cascades through code and materials. A response without a spec field
// restores the prior run and publishes an error event.
func (o *Orchestrator) Refine(ctx context.Context, instructions string) (models.GenerationRun, error) {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return models.GenerationRun{}, ErrEmptyInstruction
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return models.GenerationRun{}, ErrClosed
	}
	if err := o.requireSpecLocked("refine"); err != nil {
		return o.run.Clone(), err
	}

	debit, err := o.authorizeLocked(ctx, credits.Operation{Kind: credits.OpRefine})
	if err != nil {
		return o.run.Clone(), err
	}

	o.closeEditLocked(EditClosedSuperseded)
	o.epoch++
	if err := o.applyLocked(refineStartedInput{instructions: instructions, epoch: o.epoch}); err != nil {
		return o.run.Clone(), err
	}
	o.updateStatsLocked(func(s *models.SessionStats) {
		s.Refinements++
		s.CreditsDebited += debit
	})

	o.logger.Info("Refinement started", "run_id", o.run.ID, "epoch", o.epoch, "debit", debit)
	return o.run.Clone(), nil
}

// Snapshot returns a copy of the live run
func (o *Orchestrator) Snapshot() models.GenerationRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.Clone()
}

// Subscribe registers an event observer with the given buffer. The returned
// function unsubscribes and closes the channel.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

// Wait blocks until every launched provider effect has settled
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Close cancels outstanding provider calls, stops any edit countdown and
// closes every subscriber channel
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.closeEditLocked(EditClosedSuperseded)
	o.mu.Unlock()

	o.cancel()
	o.inflight.Wait()
	o.timers.Wait()
	o.events.close()
}

func (o *Orchestrator) requireSpecLocked(op string) error {
	if o.run.Stage != models.StageReady && o.run.Stage != models.StageError {
		return fmt.Errorf("%w: %s in stage %s", ErrIllegalTransition, op, o.run.Stage)
	}
	if strings.TrimSpace(o.run.Spec) == "" {
		return ErrNoSpecification
	}
	return nil
}

// authorizeLocked runs the credit gate and returns the debited amount
func (o *Orchestrator) authorizeLocked(ctx context.Context, op credits.Operation) (int, error) {
	if o.account == nil {
		return 0, nil
	}

	d, err := o.account.Authorize(ctx, op)
	if err != nil {
		var insufficient *credits.InsufficientCreditError
		if errors.As(err, &insufficient) {
			o.publishDeniedLocked(op.Kind, insufficient.Required, insufficient.Balance)
		}
		return 0, err
	}

	if o.account.Enabled() && o.checkpointMgr != nil {
		o.checkpointMgr.UpdateBalance(o.account.Identity(), d.Balance)
	}
	return d.Debit, nil
}

func (o *Orchestrator) publishDeniedLocked(kind credits.OperationKind, required, balance int) {
	o.events.publish(Event{
		Type:     EventCreditsDenied,
		RunID:    o.run.ID,
		Epoch:    o.epoch,
		Stage:    o.run.Stage,
		Reason:   string(kind),
		Required: intPtr(required),
		Balance:  intPtr(balance),
	})
}

// applyLocked runs one transition, publishes its events and launches its
// effects
func (o *Orchestrator) applyLocked(in input) error {
	prev := o.run
	next, effects, events, err := transition(o.run, in)
	if err != nil {
		return err
	}
	now := time.Now()
	next.UpdatedAt = now
	o.run = next

	for _, ev := range events {
		ev.Time = now
		o.events.publish(ev)
	}

	if mi, ok := in.(materialInput); ok && mi.result.Status == models.MaterialFailed {
		o.updateStatsLocked(func(s *models.SessionStats) { s.MaterialsFailed++ })
	}
	if next.Stage != prev.Stage || next.Epoch != prev.Epoch {
		o.stageChangedLocked(prev, next, now)
	}

	for _, eff := range effects {
		o.launch(eff, next.Epoch)
	}
	return nil
}

func (o *Orchestrator) stageChangedLocked(prev, next models.GenerationRun, now time.Time) {
	if !prev.Stage.Terminal() && !o.stageStart.IsZero() {
		o.metrics.RecordStage(string(prev.Stage), now.Sub(o.stageStart), next.Stage != models.StageError)
	}
	o.stageStart = now

	switch next.Stage {
	case models.StageReady:
		o.metrics.IncrementRun("ready")
		o.logger.Info("Run ready", "run_id", next.ID, "last_artifact", next.LastArtifact)
	case models.StageError:
		o.metrics.IncrementRun("error")
		o.updateStatsLocked(func(s *models.SessionStats) { s.Failures++ })
		o.logger.Warn("Run failed", "run_id", next.ID, "stage", prev.Stage, "last_artifact", next.LastArtifact, "error", next.Error)
	default:
		o.logger.Debug("Stage changed", "run_id", next.ID, "from", prev.Stage, "to", next.Stage, "epoch", next.Epoch)
	}

	if o.checkpointMgr != nil {
		if err := o.checkpointMgr.UpdateRun(next); err != nil {
			o.logger.Warn("Failed to save run snapshot", "error", err)
		}
	}
}

func (o *Orchestrator) updateStatsLocked(fn func(*models.SessionStats)) {
	if o.checkpointMgr != nil {
		o.checkpointMgr.UpdateStats(fn)
	}
}

// deliver applies a completion if it belongs to the current epoch. Stale
// completions are dropped before they touch state.
func (o *Orchestrator) deliver(epoch uint64, in input) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	if epoch != o.epoch {
		o.logger.Debug("Discarding stale completion", "input", in.name(), "epoch", epoch, "current_epoch", o.epoch)
		o.metrics.IncrementStaleDiscard(in.name())
		return false
	}
	if err := o.applyLocked(in); err != nil {
		o.logger.Warn("Ignoring completion", "input", in.name(), "error", err)
		return false
	}
	return true
}

// launch runs an effect on its own goroutine. Provider calls use the
// orchestrator lifetime context, so supersession never interrupts them.
func (o *Orchestrator) launch(eff effect, epoch uint64) {
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		switch eff := eff.(type) {
		case streamSpecEffect:
			o.runSpec(eff, epoch)
		case generateCodeEffect:
			o.runCode(eff, epoch)
		case generateMaterialsEffect:
			o.runMaterials(eff, epoch)
		case refineSpecEffect:
			o.runRefine(eff, epoch)
		}
	}()
}

func (o *Orchestrator) countCalls(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updateStatsLocked(func(s *models.SessionStats) { s.ProviderCalls += n })
}

func (o *Orchestrator) runSpec(eff streamSpecEffect, epoch uint64) {
	req, err := specRequest(o.cfg.PromptTemplates, eff.basis)
	if err != nil {
		o.deliver(epoch, failedInput{message: err.Error()})
		return
	}

	o.countCalls(1)
	stream, err := o.gen.Stream(o.ctx, req)
	if err != nil {
		o.deliver(epoch, failedInput{message: err.Error()})
		return
	}
	for fragment := range stream.Chunks() {
		o.deliver(epoch, specChunkInput{fragment: fragment})
	}

	res, err := stream.Result(o.ctx)
	if err != nil {
		o.deliver(epoch, failedInput{message: err.Error()})
		return
	}

	spec := res.Text
	if strings.TrimSpace(spec) != "" {
		spec = ensureAddendum(spec, o.cfg.PromptTemplates.SpecAddendum)
	}
	o.deliver(epoch, specDoneInput{spec: spec, sources: res.Sources})
}

func (o *Orchestrator) runCode(eff generateCodeEffect, epoch uint64) {
	o.countCalls(1)
	res, err := o.gen.Generate(o.ctx, codeRequest(eff.spec))
	if err != nil {
		o.deliver(epoch, failedInput{message: err.Error()})
		return
	}
	o.deliver(epoch, codeDoneInput{code: util.ExtractCode(res.Text)})
}

func (o *Orchestrator) runMaterials(eff generateMaterialsEffect, epoch uint64) {
	if n := len(eff.request.Kinds()); n > 0 {
		o.countCalls(n)
	}
	o.materials.Run(o.ctx, eff.spec, eff.request, func(res models.MaterialResult) {
		o.deliver(epoch, materialInput{result: res})
	})
	o.deliver(epoch, materialsDoneInput{})
}

func (o *Orchestrator) runRefine(eff refineSpecEffect, epoch uint64) {
	req, err := refineRequest(o.cfg.PromptTemplates, eff)
	if err != nil {
		o.deliver(epoch, failedInput{message: err.Error()})
		return
	}

	o.countCalls(1)
	res, err := o.gen.Generate(o.ctx, req)
	if err != nil {
		o.deliver(epoch, failedInput{message: err.Error()})
		return
	}

	spec, err := parseRefinement(res.Text)
	if err != nil {
		o.logger.Warn("Refinement rejected", "error", err)
		o.deliver(epoch, refineRejectedInput{prior: eff.prior, message: err.Error()})
		return
	}
	o.deliver(epoch, refinedInput{spec: ensureAddendum(spec, o.cfg.PromptTemplates.SpecAddendum)})
}

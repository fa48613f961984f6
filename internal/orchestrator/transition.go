package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lamim/classforge/pkg/models"
)

// input is a stimulus applied to the live run
type input interface{ name() string }

type submitInput struct{ run models.GenerationRun }
type clearInput struct{ epoch uint64 }
type specChunkInput struct{ fragment string }
type specDoneInput struct {
	spec    string
	sources []models.Source
}
type codeDoneInput struct{ code string }
type materialInput struct{ result models.MaterialResult }
type materialsDoneInput struct{}
type editSavedInput struct {
	spec  string
	epoch uint64
}
type refineStartedInput struct {
	instructions string
	epoch        uint64
}
type refinedInput struct{ spec string }
type refineRejectedInput struct {
	prior   models.GenerationRun
	message string
}
type failedInput struct{ message string }
type restoreInput struct {
	run   models.GenerationRun
	epoch uint64
}

func (submitInput) name() string         { return "submit" }
func (clearInput) name() string          { return "clear" }
func (specChunkInput) name() string      { return "spec_chunk" }
func (specDoneInput) name() string       { return "spec_done" }
func (codeDoneInput) name() string       { return "code_done" }
func (materialInput) name() string       { return "material" }
func (materialsDoneInput) name() string  { return "materials_done" }
func (editSavedInput) name() string      { return "edit_saved" }
func (refineStartedInput) name() string  { return "refine_started" }
func (refinedInput) name() string        { return "refined" }
func (refineRejectedInput) name() string { return "refine_rejected" }
func (failedInput) name() string         { return "failed" }
func (restoreInput) name() string        { return "restore" }

// effect is provider work requested by a transition
type effect interface{ stage() models.Stage }

type streamSpecEffect struct{ basis models.ContentBasis }
type generateCodeEffect struct{ spec string }
type generateMaterialsEffect struct {
	spec    string
	request models.MaterialRequest
}
type refineSpecEffect struct {
	spec         string
	instructions string
	complexity   int
	prior        models.GenerationRun
}

func (streamSpecEffect) stage() models.Stage        { return models.StageGeneratingSpec }
func (generateCodeEffect) stage() models.Stage      { return models.StageGeneratingCode }
func (generateMaterialsEffect) stage() models.Stage { return models.StageGeneratingMaterials }
func (refineSpecEffect) stage() models.Stage        { return models.StageGeneratingSpec }

// transition computes the next run, the provider work to launch and the
// events to publish. It performs no I/O. Illegal pairs return
// ErrIllegalTransition and leave the run untouched.
func transition(run models.GenerationRun, in input) (models.GenerationRun, []effect, []Event, error) {
	illegal := func() (models.GenerationRun, []effect, []Event, error) {
		return run, nil, nil, fmt.Errorf("%w: %s in stage %s", ErrIllegalTransition, in.name(), run.Stage)
	}

	next := run.Clone()
	switch in := in.(type) {
	case submitInput:
		next = in.run.Clone()
		next.Stage = models.StageGeneratingSpec
		next.LastArtifact = models.ArtifactNone
		return next, []effect{streamSpecEffect{basis: next.Basis}}, []Event{stageEvent(next)}, nil

	case clearInput:
		next = models.GenerationRun{Epoch: in.epoch, Stage: models.StageIdle, LastArtifact: models.ArtifactNone}
		return next, nil, []Event{stageEvent(next)}, nil

	case specChunkInput:
		if run.Stage != models.StageGeneratingSpec {
			return illegal()
		}
		next.Spec += in.fragment
		return next, nil, []Event{runEvent(next, EventSpecFragment, func(e *Event) { e.Fragment = in.fragment })}, nil

	case specDoneInput:
		if run.Stage != models.StageGeneratingSpec {
			return illegal()
		}
		next.Sources = in.sources
		return specCompleted(next, in.spec)

	case refinedInput:
		if run.Stage != models.StageGeneratingSpec {
			return illegal()
		}
		return specCompleted(next, in.spec)

	case codeDoneInput:
		if run.Stage != models.StageGeneratingCode {
			return illegal()
		}
		if strings.TrimSpace(in.code) == "" {
			return failed(next, ErrEmptyCode.Error())
		}
		next.Code = in.code
		next.LastArtifact = models.ArtifactCode
		next.Stage = models.StageGeneratingMaterials
		next.Results = make(map[models.MaterialKind]models.MaterialResult, len(models.AllMaterialKinds))
		for _, kind := range models.AllMaterialKinds {
			if next.Materials.Requested(kind) {
				next.Results[kind] = models.Pending(kind)
			} else {
				next.Results[kind] = models.NotRequested(kind)
			}
		}
		eff := generateMaterialsEffect{spec: next.Spec, request: next.Materials}
		return next, []effect{eff}, []Event{runEvent(next, EventCodeReady, nil), stageEvent(next)}, nil

	case materialInput:
		if run.Stage != models.StageGeneratingMaterials {
			return illegal()
		}
		if next.Results == nil {
			next.Results = make(map[models.MaterialKind]models.MaterialResult)
		}
		next.Results[in.result.Kind] = in.result
		result := in.result
		return next, nil, []Event{runEvent(next, EventMaterialReady, func(e *Event) { e.Material = &result })}, nil

	case materialsDoneInput:
		if run.Stage != models.StageGeneratingMaterials {
			return illegal()
		}
		next.Stage = models.StageReady
		if len(next.Materials.Kinds()) > 0 {
			next.LastArtifact = models.ArtifactMaterials
		}
		return next, nil, []Event{stageEvent(next)}, nil

	case editSavedInput:
		if run.Stage != models.StageReady && run.Stage != models.StageError {
			return illegal()
		}
		next.Epoch = in.epoch
		next.Error = ""
		next.Spec = in.spec
		next.Code = ""
		next.Results = nil
		next.LastArtifact = models.ArtifactSpec
		next.Stage = models.StageGeneratingCode
		eff := generateCodeEffect{spec: next.Spec}
		return next, []effect{eff}, []Event{runEvent(next, EventSpecReady, nil), stageEvent(next)}, nil

	case refineStartedInput:
		if run.Stage != models.StageReady && run.Stage != models.StageError {
			return illegal()
		}
		if strings.TrimSpace(run.Spec) == "" {
			return run, nil, nil, ErrNoSpecification
		}
		next.Epoch = in.epoch
		next.Error = ""
		next.Stage = models.StageGeneratingSpec
		eff := refineSpecEffect{
			spec:         run.Spec,
			instructions: in.instructions,
			complexity:   run.Basis.Complexity,
			prior:        run.Clone(),
		}
		return next, []effect{eff}, []Event{stageEvent(next)}, nil

	case refineRejectedInput:
		if run.Stage != models.StageGeneratingSpec {
			return illegal()
		}
		next = in.prior.Clone()
		next.Epoch = run.Epoch
		errEvent := runEvent(next, EventError, func(e *Event) { e.Error = in.message })
		return next, nil, []Event{errEvent, stageEvent(next)}, nil

	case failedInput:
		if run.Stage.Terminal() {
			return illegal()
		}
		return failed(next, in.message)

	case restoreInput:
		if run.Stage != models.StageIdle || run.ID != "" {
			return illegal()
		}
		next = in.run.Clone()
		next.Epoch = in.epoch
		if next.Stage.Terminal() {
			return next, nil, []Event{stageEvent(next)}, nil
		}
		for kind, res := range next.Results {
			if res.Status == models.MaterialPending {
				next.Results[kind] = models.Failed(kind, ErrInterrupted.Error())
			}
		}
		return failed(next, ErrInterrupted.Error())
	}

	return illegal()
}

// specCompleted applies a finished specification and starts code generation
func specCompleted(next models.GenerationRun, spec string) (models.GenerationRun, []effect, []Event, error) {
	if strings.TrimSpace(spec) == "" {
		return failed(next, ErrEmptySpecification.Error())
	}
	next.Spec = spec
	next.Code = ""
	next.Results = nil
	next.LastArtifact = models.ArtifactSpec
	next.Stage = models.StageGeneratingCode
	eff := generateCodeEffect{spec: spec}
	return next, []effect{eff}, []Event{runEvent(next, EventSpecReady, nil), stageEvent(next)}, nil
}

func failed(next models.GenerationRun, message string) (models.GenerationRun, []effect, []Event, error) {
	next.Stage = models.StageError
	next.Error = message
	errEvent := runEvent(next, EventError, func(e *Event) { e.Error = message })
	return next, nil, []Event{errEvent, stageEvent(next)}, nil
}

func stageEvent(run models.GenerationRun) Event {
	return runEvent(run, EventStageChanged, nil)
}

func runEvent(run models.GenerationRun, typ EventType, fill func(*Event)) Event {
	ev := Event{
		Type:         typ,
		RunID:        run.ID,
		Epoch:        run.Epoch,
		Stage:        run.Stage,
		LastArtifact: run.LastArtifact,
	}
	if fill != nil {
		fill(&ev)
	}
	return ev
}

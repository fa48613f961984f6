package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/internal/generation"
	"github.com/lamim/classforge/internal/metrics"
	"github.com/lamim/classforge/internal/util"
	"github.com/lamim/classforge/pkg/models"
)

// ErrMalformedMaterial is matched by every *MalformedMaterialError
var ErrMalformedMaterial = errors.New("malformed material")

// MalformedMaterialError reports a response that failed structured parsing
type MalformedMaterialError struct {
	Kind   models.MaterialKind
	Reason string
	Err    error
}

func (e *MalformedMaterialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s: %s", e.Kind, e.Reason)
}

func (e *MalformedMaterialError) Unwrap() error { return e.Err }

func (e *MalformedMaterialError) Is(target error) bool {
	return target == ErrMalformedMaterial
}

// ResultFunc receives each material as its branch completes. Calls are
// serialised.
type ResultFunc func(models.MaterialResult)

// Pipeline generates the requested materials concurrently from a finished
// specification
type Pipeline struct {
	gen       generation.Generator
	templates config.PromptTemplates
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewPipeline creates a material pipeline. collector may be nil.
func NewPipeline(gen generation.Generator, templates config.PromptTemplates, collector *metrics.Collector, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		gen:       gen,
		templates: templates,
		metrics:   collector,
		logger:    logger.With("component", "materials"),
	}
}

// Run generates every requested kind. A failing branch becomes a Failed
// result for that kind only; siblings always run to completion. The returned
// slice holds one result per kind in presentation order.
func (p *Pipeline) Run(ctx context.Context, spec string, req models.MaterialRequest, onResult ResultFunc) []models.MaterialResult {
	results := make([]models.MaterialResult, len(models.AllMaterialKinds))
	for i, kind := range models.AllMaterialKinds {
		results[i] = models.NotRequested(kind)
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for i, kind := range models.AllMaterialKinds {
		if !req.Requested(kind) {
			continue
		}
		g.Go(func() error {
			res := p.generate(ctx, spec, kind)

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) generate(ctx context.Context, spec string, kind models.MaterialKind) models.MaterialResult {
	res, err := p.generateKind(ctx, spec, kind)
	if err != nil {
		p.logger.Warn("Material generation failed", "kind", kind, "error", err)
		p.metrics.IncrementMaterial(string(kind), false)
		return models.Failed(kind, err.Error())
	}
	p.logger.Debug("Material generated", "kind", kind)
	p.metrics.IncrementMaterial(string(kind), true)
	return res
}

func (p *Pipeline) generateKind(ctx context.Context, spec string, kind models.MaterialKind) (models.MaterialResult, error) {
	tmpl, err := p.template(kind)
	if err != nil {
		return models.MaterialResult{}, err
	}
	prompt, err := util.RenderTemplate(tmpl, map[string]any{"Spec": spec})
	if err != nil {
		return models.MaterialResult{}, fmt.Errorf("failed to render %s prompt: %w", kind, err)
	}

	out, err := p.gen.Generate(ctx, generation.Request{
		Stage:      models.StageGeneratingMaterials,
		Role:       config.RoleMaterials,
		BasePrompt: prompt,
		JSONOutput: kind == models.MaterialQuiz,
	})
	if err != nil {
		return models.MaterialResult{}, err
	}

	if kind == models.MaterialQuiz {
		items, err := ParseQuiz(out.Text)
		if err != nil {
			return models.MaterialResult{}, err
		}
		return models.MaterialResult{Kind: kind, Status: models.MaterialReady, Quiz: items}, nil
	}

	text := strings.TrimSpace(util.StripThinkTags(out.Text))
	if text == "" {
		return models.MaterialResult{}, &MalformedMaterialError{Kind: kind, Reason: "empty response"}
	}
	return models.MaterialResult{Kind: kind, Status: models.MaterialReady, Text: text}, nil
}

func (p *Pipeline) template(kind models.MaterialKind) (string, error) {
	switch kind {
	case models.MaterialLessonPlan:
		return p.templates.LessonPlan, nil
	case models.MaterialHandout:
		return p.templates.Handout, nil
	case models.MaterialQuiz:
		return p.templates.Quiz, nil
	}
	return "", fmt.Errorf("unknown material kind %q", kind)
}

// ParseQuiz decodes a quiz response. Both a bare array and an object with a
// "quiz" array are accepted; every item must validate.
func ParseQuiz(text string) ([]models.QuizItem, error) {
	raw := util.ExtractJSON(util.StripThinkTags(text))

	var items []models.QuizItem
	if strings.HasPrefix(raw, "{") {
		var wrapped struct {
			Quiz json.RawMessage `json:"quiz"`
		}
		if err := util.UnmarshalLenient(raw, &wrapped); err != nil {
			return nil, &MalformedMaterialError{Kind: models.MaterialQuiz, Reason: "response is not valid JSON", Err: err}
		}
		if len(wrapped.Quiz) == 0 {
			return nil, &MalformedMaterialError{Kind: models.MaterialQuiz, Reason: "response object has no quiz field"}
		}
		raw = string(wrapped.Quiz)
	}

	if err := util.UnmarshalLenient(raw, &items); err != nil {
		return nil, &MalformedMaterialError{Kind: models.MaterialQuiz, Reason: "quiz is not a JSON array of questions", Err: err}
	}
	if len(items) == 0 {
		return nil, &MalformedMaterialError{Kind: models.MaterialQuiz, Reason: "quiz contains no questions"}
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return nil, &MalformedMaterialError{Kind: models.MaterialQuiz, Reason: fmt.Sprintf("question %d is invalid", i+1), Err: err}
		}
	}
	return items, nil
}

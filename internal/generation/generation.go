package generation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lamim/classforge/internal/api"
	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/internal/metrics"
	"github.com/lamim/classforge/pkg/models"
)

// Request describes one provider call
type Request struct {
	Stage             models.Stage
	Role              string // config model role; empty means main
	BasePrompt        string
	SupplementaryText string
	VideoURL          string
	Temperature       float64 // 0 keeps the model default
	Safety            []config.SafetySetting
	UseSearch         bool
	JSONOutput        bool // ignored when UseSearch is set
}

// Result is the aggregate of a completed call
type Result struct {
	Text    string
	Sources []models.Source
}

// Generator produces text from the configured provider
type Generator interface {
	Stream(ctx context.Context, req Request) (*Stream, error)
	Generate(ctx context.Context, req Request) (Result, error)
}

// Observer receives one PROMPT record per call followed by exactly one
// RESPONSE or ERROR record
type Observer interface {
	Record(rec models.InteractionRecord)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(models.InteractionRecord)

func (f ObserverFunc) Record(rec models.InteractionRecord) { f(rec) }

// Adapter implements Generator over the OpenAI-compatible client
type Adapter struct {
	client   *api.Client
	cfg      *config.Config
	secrets  *config.Secrets
	observer Observer
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewAdapter creates a generation adapter. observer and collector may be nil.
func NewAdapter(
	client *api.Client,
	cfg *config.Config,
	secrets *config.Secrets,
	observer Observer,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Adapter {
	return &Adapter{
		client:   client,
		cfg:      cfg,
		secrets:  secrets,
		observer: observer,
		metrics:  collector,
		logger:   logger.With("component", "generation"),
	}
}

// call is the per-request state shared by both modes
type call struct {
	req       Request
	model     config.ModelConfig
	apiKey    string
	requestID string
	started   time.Time
}

// Stream starts a streaming call. Unavailability is reported immediately;
// every other failure surfaces from Stream.Result.
func (a *Adapter) Stream(ctx context.Context, req Request) (*Stream, error) {
	c, err := a.begin(req)
	if err != nil {
		return nil, err
	}

	return NewStream(ctx, func(emit func(string)) (Result, error) {
		resp, err := a.client.ChatCompletionStreaming(ctx, c.model, c.apiKey, a.buildRequest(req), emit)
		return a.finish(c, resp, err)
	}), nil
}

// Generate performs a non-streaming call
func (a *Adapter) Generate(ctx context.Context, req Request) (Result, error) {
	c, err := a.begin(req)
	if err != nil {
		return Result{}, err
	}

	resp, err := a.client.ChatCompletion(ctx, c.model, c.apiKey, a.buildRequest(req))
	return a.finish(c, resp, err)
}

// begin resolves the model and credential and records the prompt
func (a *Adapter) begin(req Request) (*call, error) {
	role := req.Role
	if role == "" {
		role = config.RoleMain
	}
	c := &call{
		req:       req,
		model:     a.cfg.ModelFor(role),
		requestID: uuid.New().String(),
		started:   time.Now(),
	}

	if err := a.checkAvailable(role, c); err != nil {
		a.logger.Error("Provider unavailable", "stage", req.Stage, "role", role, "error", err)
		a.record(c, models.InteractionError, map[string]any{"error": err.Error(), "kind": kindLabel(err)})
		a.metrics.RecordAPIRequest(c.model.ModelName, string(req.Stage), kindLabel(err), 0)
		return nil, err
	}

	a.record(c, models.InteractionPrompt, map[string]any{
		"prompt":             req.BasePrompt,
		"supplementary_text": req.SupplementaryText,
		"video_url":          req.VideoURL,
		"use_search":         req.UseSearch,
		"json_output":        req.JSONOutput && !req.UseSearch,
	})
	a.metrics.RequestStarted()
	return c, nil
}

func (a *Adapter) checkAvailable(role string, c *call) error {
	if c.model.BaseURL == "" || c.model.ModelName == "" {
		return unavailable("no model configured for role %q", role)
	}
	c.apiKey = a.secrets.GetAPIKey(c.model.BaseURL)
	if c.apiKey == "" && !config.IsLocalEndpoint(c.model.BaseURL) {
		return unavailable("no API key for %s", config.GetProviderName(c.model.BaseURL))
	}
	return nil
}

// finish classifies the outcome and records exactly one terminal record
func (a *Adapter) finish(c *call, resp *api.ChatCompletionResponse, callErr error) (Result, error) {
	a.metrics.RequestFinished()

	result, err := a.interpret(resp, callErr)
	duration := time.Since(c.started)
	a.metrics.RecordAPIRequest(c.model.ModelName, string(c.req.Stage), kindLabel(err), duration)

	if err != nil {
		a.logger.Warn("Generation failed",
			"stage", c.req.Stage,
			"model", c.model.ModelName,
			"kind", kindLabel(err),
			"error", err,
			"duration_ms", duration.Milliseconds())
		a.record(c, models.InteractionError, map[string]any{
			"error":        err.Error(),
			"kind":         kindLabel(err),
			"partial_text": result.Text,
		})
		return result, err
	}

	a.logger.Debug("Generation completed",
		"stage", c.req.Stage,
		"model", c.model.ModelName,
		"length", len(result.Text),
		"sources", len(result.Sources),
		"duration_ms", duration.Milliseconds())
	a.record(c, models.InteractionResponse, map[string]any{
		"text":    result.Text,
		"sources": result.Sources,
	})
	return result, nil
}

func (a *Adapter) interpret(resp *api.ChatCompletionResponse, callErr error) (Result, error) {
	if callErr != nil {
		return Result{}, classify(callErr)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Result{}, &Error{Kind: ErrProviderError, Message: "Content generation failed: empty response from provider"}
	}

	choice := resp.Choices[0]
	result := Result{
		Text:    choice.Message.Text(),
		Sources: collectSources(choice.Message.Annotations, resp.Citations),
	}

	if choice.Message.Refusal != "" {
		return result, blockedResponse()
	}
	switch strings.ToLower(choice.FinishReason) {
	case "content_filter", "safety", "prohibited_content", "blocklist", "spii":
		return result, blockedResponse()
	case "length", "max_tokens":
		return result, &Error{
			Kind:    ErrProviderError,
			Message: "Content generation failed: response truncated at the output token limit",
		}
	}
	return result, nil
}

func (a *Adapter) buildRequest(req Request) api.ChatCompletionRequest {
	var content any = req.BasePrompt
	if req.SupplementaryText != "" || req.VideoURL != "" {
		parts := []api.ContentPart{api.TextPart(req.BasePrompt)}
		if req.SupplementaryText != "" {
			parts = append(parts, api.TextPart(req.SupplementaryText))
		}
		if req.VideoURL != "" {
			parts = append(parts, api.VideoPart(req.VideoURL))
		}
		content = parts
	}

	out := api.ChatCompletionRequest{
		Messages:    []api.Message{{Role: "user", Content: content}},
		Temperature: req.Temperature,
	}

	safety := req.Safety
	if safety == nil {
		safety = a.cfg.Safety
	}
	for _, s := range safety {
		out.SafetySettings = append(out.SafetySettings, api.SafetySetting{Category: s.Category, Threshold: s.Threshold})
	}

	// Search augmentation and structured output cannot be combined upstream
	if req.UseSearch {
		out.WebSearchOptions = &api.WebSearchOptions{}
	} else if req.JSONOutput {
		out.ResponseFormat = &api.ResponseFormat{Type: "json_object"}
	}
	return out
}

func (a *Adapter) record(c *call, typ models.InteractionType, data any) {
	if a.observer == nil {
		return
	}
	a.observer.Record(models.InteractionRecord{
		ID:        uuid.New().String(),
		RequestID: c.requestID,
		Timestamp: time.Now(),
		Type:      typ,
		Model:     c.model.ModelName,
		Stage:     string(c.req.Stage),
		Data:      data,
	})
}

// collectSources merges annotation citations and top-level citations,
// dropping duplicate URIs
func collectSources(annotations []api.Annotation, citations []string) []models.Source {
	var sources []models.Source
	seen := make(map[string]bool)
	for _, ann := range annotations {
		if ann.URLCitation == nil || ann.URLCitation.URL == "" || seen[ann.URLCitation.URL] {
			continue
		}
		seen[ann.URLCitation.URL] = true
		sources = append(sources, models.Source{URI: ann.URLCitation.URL, Title: ann.URLCitation.Title})
	}
	for _, uri := range citations {
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		sources = append(sources, models.Source{URI: uri})
	}
	return sources
}

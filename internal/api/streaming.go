package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lamim/classforge/internal/config"
)

// StreamDelta represents the delta content in a streaming response chunk
type StreamDelta struct {
	Role             string       `json:"role,omitempty"`
	Content          string       `json:"content,omitempty"`
	ReasoningContent string       `json:"reasoning_content,omitempty"` // For reasoning models
	Refusal          string       `json:"refusal,omitempty"`
	Annotations      []Annotation `json:"annotations,omitempty"`
}

// StreamChoice represents a choice in a streaming response chunk
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// StreamResponse represents a single chunk in the streaming response
type StreamResponse struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	Created   int64          `json:"created"`
	Model     string         `json:"model"`
	Choices   []StreamChoice `json:"choices"`
	Citations []string       `json:"citations,omitempty"`
	Error     *ErrorBody     `json:"error,omitempty"`
}

// ChatCompletionStreaming sends a chat completion request with streaming
// enabled. onDelta receives every content fragment in arrival order; the
// returned response carries the aggregated text. A request is never retried
// once a fragment has been delivered.
//
// http_timeout_seconds bounds the wait for response headers only. Once the
// stream is open it may run as long as lines keep arriving within
// stream_idle_timeout_seconds.
func (c *Client) ChatCompletionStreaming(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	req ChatCompletionRequest,
	onDelta func(string),
) (*ChatCompletionResponse, error) {
	applyModelDefaults(&req, modelCfg)
	req.Stream = true

	headerTimeout := requestTimeout(modelCfg)
	idleTimeout := streamIdleTimeout(modelCfg)
	return c.execute(ctx, modelCfg, 0, func(ctx context.Context) (*ChatCompletionResponse, error) {
		return c.doStreamingRequest(ctx, modelCfg.BaseURL, apiKey, req, onDelta, headerTimeout, idleTimeout)
	})
}

func (c *Client) doStreamingRequest(
	ctx context.Context,
	baseURL string,
	apiKey string,
	req ChatCompletionRequest,
	onDelta func(string),
	headerTimeout time.Duration,
	idleTimeout time.Duration,
) (*ChatCompletionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The watchdog cancels the attempt when headers or the next line are late
	var stalled atomic.Bool
	watchdog := time.AfterFunc(headerTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	httpResp, err := c.post(ctx, baseURL, apiKey, req, "text/event-stream")
	if err != nil {
		if stalled.Load() {
			return nil, &APIError{Message: fmt.Sprintf("no response headers within %s", headerTimeout), Retryable: true}
		}
		return nil, err
	}
	defer httpResp.Body.Close()
	watchdog.Reset(idleTimeout)

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, newStatusError(httpResp.StatusCode, bodyBytes)
	}

	var (
		responseContent  strings.Builder
		reasoningContent strings.Builder
		refusal          strings.Builder
		annotations      []Annotation
		citations        []string
		responseID       string
		responseModel    string
		responseCreated  int64
		finishReason     string
		delivered        bool
	)

	// failed marks mid-stream failures; once text reached the caller a retry
	// would duplicate fragments
	failed := func(msg string) *APIError {
		return &APIError{Message: msg, StatusCode: httpResp.StatusCode, Retryable: !delivered}
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		watchdog.Reset(idleTimeout)
		line := scanner.Text()

		// Skip empty lines and SSE comments
		if len(strings.TrimSpace(line)) == 0 || strings.HasPrefix(line, ":") {
			continue
		}

		// SSE format: "data: {...}"
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		// Check for end marker
		if data == "[DONE]" {
			break
		}

		var chunk StreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("Failed to parse stream chunk", "error", err, "data", data)
			continue
		}

		if chunk.Error != nil {
			apiErr := failed(chunk.Error.Message)
			apiErr.Type = chunk.Error.Type
			apiErr.Code = chunk.Error.Code
			return nil, apiErr
		}

		// Store metadata from first chunk
		if responseID == "" {
			responseID = chunk.ID
			responseModel = chunk.Model
			responseCreated = chunk.Created
		}
		if len(chunk.Citations) > 0 {
			citations = chunk.Citations
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			responseContent.WriteString(delta.Content)
			delivered = true
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		if delta.ReasoningContent != "" {
			reasoningContent.WriteString(delta.ReasoningContent)
		}
		if delta.Refusal != "" {
			refusal.WriteString(delta.Refusal)
		}
		annotations = append(annotations, delta.Annotations...)

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		if stalled.Load() {
			return nil, failed(fmt.Sprintf("stream idle for more than %s", idleTimeout))
		}
		return nil, failed(fmt.Sprintf("stream reading error: %v", err))
	}

	finalMessage := Message{
		Role:             "assistant",
		Content:          responseContent.String(),
		ReasoningContent: reasoningContent.String(),
		Refusal:          refusal.String(),
		Annotations:      annotations,
	}

	resp := &ChatCompletionResponse{
		ID:      responseID,
		Object:  "chat.completion",
		Created: responseCreated,
		Model:   responseModel,
		Choices: []Choice{
			{
				Index:        0,
				Message:      finalMessage,
				FinishReason: finishReason,
			},
		},
		Citations: citations,
	}

	if reasoningContent.Len() > 0 {
		c.logger.Debug("Reasoning content detected",
			"model", responseModel,
			"reasoning_length", reasoningContent.Len(),
			"content_length", responseContent.Len())
	}

	return resp, nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/classforge/internal/config"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests
	DefaultHTTPTimeout = 300 * time.Second
	// DefaultStreamIdleTimeout bounds the silence between streamed lines
	DefaultStreamIdleTimeout = 60 * time.Second
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// DefaultMaxBackoffDuration caps a single backoff sleep
	DefaultMaxBackoffDuration = 120 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
)

// Client handles HTTP requests to OpenAI-compatible API endpoints
type Client struct {
	httpClient           *http.Client
	rateLimiterPool      *RateLimiterPool
	logger               *slog.Logger
	baseRetryDelay       time.Duration
	providerRateLimits   map[string]int
	providerBurstPercent int
}

// NewClient creates a new API client
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		// Per-request deadlines come from the model config
		httpClient:           &http.Client{},
		rateLimiterPool:      NewRateLimiterPool(),
		logger:               logger,
		baseRetryDelay:       DefaultBaseRetryDelay,
		providerBurstPercent: 15,
	}
}

// SetProviderRateLimits installs provider-wide request budgets shared by
// every model on that provider
func (c *Client) SetProviderRateLimits(limits map[string]int, burstPercent int) {
	c.providerRateLimits = limits
	if burstPercent > 0 {
		c.providerBurstPercent = burstPercent
	}
}

// ChatCompletion sends a single-shot chat completion request
func (c *Client) ChatCompletion(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	applyModelDefaults(&req, modelCfg)
	req.Stream = false

	return c.execute(ctx, modelCfg, requestTimeout(modelCfg), func(ctx context.Context) (*ChatCompletionResponse, error) {
		return c.doRequest(ctx, modelCfg.BaseURL, apiKey, req)
	})
}

func requestTimeout(modelCfg config.ModelConfig) time.Duration {
	if modelCfg.HTTPTimeoutSeconds > 0 {
		return time.Duration(modelCfg.HTTPTimeoutSeconds) * time.Second
	}
	return DefaultHTTPTimeout
}

func streamIdleTimeout(modelCfg config.ModelConfig) time.Duration {
	if modelCfg.StreamIdleTimeoutSeconds > 0 {
		return time.Duration(modelCfg.StreamIdleTimeoutSeconds) * time.Second
	}
	return DefaultStreamIdleTimeout
}

// execute runs one request attempt, retrying retryable failures with
// exponential backoff up to modelCfg.MaxRetries times. A zero deadline
// leaves the attempts bounded by ctx alone.
func (c *Client) execute(
	ctx context.Context,
	modelCfg config.ModelConfig,
	deadline time.Duration,
	attempt func(context.Context) (*ChatCompletionResponse, error),
) (*ChatCompletionResponse, error) {
	requestStart := time.Now()

	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	// Generate a unique model ID for rate limiting
	modelID := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)
	providerName := config.GetProviderName(modelCfg.BaseURL)
	providerRPM := c.providerRateLimits[providerName]

	rateLimitStart := time.Now()
	if err := c.rateLimiterPool.Wait(ctx, modelID, modelCfg.RateLimitPerMinute, providerName, providerRPM, c.providerBurstPercent); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	rateLimitWait := time.Since(rateLimitStart)

	maxRetries := modelCfg.MaxRetries
	var lastErr error
	for n := 0; n <= maxRetries; n++ {
		if n > 0 {
			sleepDuration := c.backoff(n, lastErr, modelCfg)

			c.logger.Warn("Retrying API request",
				"attempt", n,
				"max_retries", maxRetries,
				"backoff", sleepDuration,
				"model", modelCfg.ModelName,
				"is_rate_limit", isRateLimitError(lastErr))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleepDuration):
			}
		}

		resp, err := attempt(ctx)
		if err == nil {
			c.logger.Debug("API request completed",
				"model", modelCfg.ModelName,
				"rate_limit_wait_ms", rateLimitWait.Milliseconds(),
				"total_ms", time.Since(requestStart).Milliseconds())
			return resp, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	if maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) backoff(attempt int, lastErr error, modelCfg config.ModelConfig) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay

	// For rate limit errors, use longer delays (3^n: 6s, 18s, 54s)
	if isRateLimitError(lastErr) {
		backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
	}

	maxBackoff := DefaultMaxBackoffDuration
	if modelCfg.MaxBackoffSeconds > 0 {
		maxBackoff = time.Duration(modelCfg.MaxBackoffSeconds) * time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
	return backoff + jitter
}

func (c *Client) doRequest(
	ctx context.Context,
	baseURL string,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	httpResp, err := c.post(ctx, baseURL, apiKey, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	// Read response body
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("failed to read response: %v", err), Retryable: true}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, newStatusError(httpResp.StatusCode, respBody)
	}

	// Parse response
	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("failed to parse response: %v", err), StatusCode: httpResp.StatusCode}
	}

	if len(resp.Choices) == 0 {
		return nil, &APIError{Message: "no choices returned in response", StatusCode: httpResp.StatusCode}
	}

	return &resp, nil
}

// post encodes req and sends it to the chat completions endpoint
func (c *Client) post(
	ctx context.Context,
	baseURL string,
	apiKey string,
	req ChatCompletionRequest,
	accept string,
) (*http.Response, error) {
	buf := getBuffer()
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		putBuffer(buf)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := chatCompletionsURL(baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		putBuffer(buf)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		c.logger.Debug("API request", "endpoint", endpoint, "has_key", true, "stream", req.Stream)
	} else {
		c.logger.Debug("API request without key", "endpoint", endpoint, "stream", req.Stream)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		putBuffer(buf)
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
			Retryable:  ctx.Err() == nil,
		}
	}
	httpResp.Body = releaseOnClose(httpResp.Body, buf)
	return httpResp, nil
}

func chatCompletionsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/completions"
}

func applyModelDefaults(req *ChatCompletionRequest, modelCfg config.ModelConfig) {
	req.Model = modelCfg.ModelName
	if req.Temperature == 0 {
		req.Temperature = modelCfg.Temperature
	}
	if req.TopP == 0 {
		req.TopP = modelCfg.TopP
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = modelCfg.MaxOutputTokens
	}
	req.N = 1
}

func newStatusError(statusCode int, body []byte) *APIError {
	retryable := isStatusCodeRetryable(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{
			Message:    errResp.Error.Message,
			StatusCode: statusCode,
			Type:       errResp.Error.Type,
			Code:       errResp.Error.Code,
			Retryable:  retryable,
		}
	}

	return &APIError{
		Message:    fmt.Sprintf("API request failed with status %d: %s", statusCode, string(body)),
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

func isRateLimitError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// APIError represents an error returned by the API
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// IsContentPolicy reports whether the provider rejected the request on
// safety or policy grounds
func (e *APIError) IsContentPolicy() bool {
	for _, s := range []string{e.Code, e.Type} {
		switch strings.ToLower(s) {
		case "content_policy_violation", "content_filter", "safety", "prohibited_content":
			return true
		}
	}
	return false
}

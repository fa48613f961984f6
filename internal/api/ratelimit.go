package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-model and per-provider rate limiters
type RateLimiterPool struct {
	limiters  map[string]*rate.Limiter
	rates     map[string]int // Track original rates for consistency check
	providers map[string]*rate.Limiter
	mu        sync.RWMutex
}

// NewRateLimiterPool creates a new rate limiter pool
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters:  make(map[string]*rate.Limiter),
		rates:     make(map[string]int),
		providers: make(map[string]*rate.Limiter),
	}
}

// GetOrCreate returns an existing rate limiter or creates a new one
// If a limiter exists with a different rate, it logs a warning and keeps the existing one
func (p *RateLimiterPool) GetOrCreate(modelID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[modelID]; exists {
		if existingRate, ok := p.rates[modelID]; ok && existingRate != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, using existing rate",
				"model_id", modelID,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	// Convert requests per minute to requests per second
	rps := float64(requestsPerMinute) / 60.0
	burst := max(1, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[modelID] = limiter
	p.rates[modelID] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"model_id", modelID,
		"rpm", requestsPerMinute,
		"rps", rps,
		"burst", burst)

	return limiter
}

// providerLimiter returns the shared limiter for a provider, creating it with
// burstPercent of the per-minute budget as burst capacity
func (p *RateLimiterPool) providerLimiter(provider string, requestsPerMinute, burstPercent int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.providers[provider]; ok {
		return limiter
	}
	burst := max(1, requestsPerMinute*burstPercent/100)
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	p.providers[provider] = limiter
	return limiter
}

// Wait blocks until both the model limiter and, when providerRPM is set, the
// provider limiter allow the next request
func (p *RateLimiterPool) Wait(ctx context.Context, modelID string, requestsPerMinute int, provider string, providerRPM, burstPercent int) error {
	if providerRPM > 0 {
		if err := p.providerLimiter(provider, providerRPM, burstPercent).Wait(ctx); err != nil {
			return err
		}
	}
	return p.GetOrCreate(modelID, requestsPerMinute).Wait(ctx)
}

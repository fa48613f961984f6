package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classforge_api_request_duration_seconds",
			Help:    "Provider request duration in seconds by model, stage and outcome",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 11), // 0.25s to ~256s
		},
		[]string{"model", "stage", "status"},
	)

	inFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classforge_api_requests_in_flight",
			Help: "Provider requests currently outstanding",
		},
	)

	// Pipeline metrics
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classforge_stage_duration_seconds",
			Help:    "Run stage duration by stage and outcome",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"stage", "status"},
	)

	runOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classforge_runs_total",
			Help: "Runs finished by outcome",
		},
		[]string{"outcome"}, // "ready", "error"
	)

	materialOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classforge_materials_total",
			Help: "Material branches finished by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	staleDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classforge_stale_results_discarded_total",
			Help: "Completions dropped because a newer run superseded them",
		},
		[]string{"input"},
	)

	// Credit metrics
	creditsDebited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classforge_credits_debited_total",
			Help: "Credits debited by operation",
		},
		[]string{"operation"},
	)

	creditDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classforge_credit_denials_total",
			Help: "Gated operations refused for insufficient credit",
		},
		[]string{"operation"},
	)
)

// Collector provides convenience methods for recording metrics.
// A nil *Collector records nothing.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordAPIRequest records a provider request duration with its outcome
func (c *Collector) RecordAPIRequest(model, stage, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	apiRequestDuration.WithLabelValues(model, stage, outcome).Observe(duration.Seconds())
}

// RequestStarted marks a provider request as outstanding
func (c *Collector) RequestStarted() {
	if c == nil {
		return
	}
	inFlightRequests.Inc()
}

// RequestFinished marks a provider request as settled
func (c *Collector) RequestFinished() {
	if c == nil {
		return
	}
	inFlightRequests.Dec()
}

// RecordStage records how long a run stage took
func (c *Collector) RecordStage(stage string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	stageDuration.WithLabelValues(stage, status(success)).Observe(duration.Seconds())
}

// IncrementRun counts a run reaching a terminal stage
func (c *Collector) IncrementRun(outcome string) {
	if c == nil {
		return
	}
	runOutcomes.WithLabelValues(outcome).Inc()
}

// IncrementMaterial counts a finished material branch
func (c *Collector) IncrementMaterial(kind string, success bool) {
	if c == nil {
		return
	}
	materialOutcomes.WithLabelValues(kind, status(success)).Inc()
}

// IncrementStaleDiscard counts a dropped superseded completion
func (c *Collector) IncrementStaleDiscard(input string) {
	if c == nil {
		return
	}
	staleDiscards.WithLabelValues(input).Inc()
}

// AddCreditsDebited records a successful debit
func (c *Collector) AddCreditsDebited(operation string, amount int) {
	if c == nil || amount <= 0 {
		return
	}
	creditsDebited.WithLabelValues(operation).Add(float64(amount))
}

// IncrementCreditDenial counts a refused gated operation
func (c *Collector) IncrementCreditDenial(operation string) {
	if c == nil {
		return
	}
	creditDenials.WithLabelValues(operation).Inc()
	c.logger.Debug("Credit denial recorded", "operation", operation)
}

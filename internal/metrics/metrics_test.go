package metrics

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	c.RecordAPIRequest("m", "generating_spec", "success", time.Second)
	c.RequestStarted()
	c.RequestFinished()
	c.RecordStage("generating_code", time.Second, true)
	c.IncrementRun("ready")
	c.IncrementMaterial("quiz", false)
	c.IncrementStaleDiscard("spec_chunk")
	c.AddCreditsDebited("generate", 40)
	c.IncrementCreditDenial("edit")
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(testLogger())

	runs := testutil.ToFloat64(runOutcomes.WithLabelValues("ready"))
	c.IncrementRun("ready")
	if got := testutil.ToFloat64(runOutcomes.WithLabelValues("ready")); got != runs+1 {
		t.Errorf("runs = %v, want %v", got, runs+1)
	}

	debited := testutil.ToFloat64(creditsDebited.WithLabelValues("refine"))
	c.AddCreditsDebited("refine", 25)
	c.AddCreditsDebited("refine", 0)
	if got := testutil.ToFloat64(creditsDebited.WithLabelValues("refine")); got != debited+25 {
		t.Errorf("debited = %v, want %v", got, debited+25)
	}

	failed := testutil.ToFloat64(materialOutcomes.WithLabelValues("quiz", "error"))
	c.IncrementMaterial("quiz", false)
	if got := testutil.ToFloat64(materialOutcomes.WithLabelValues("quiz", "error")); got != failed+1 {
		t.Errorf("quiz failures = %v, want %v", got, failed+1)
	}

	inFlight := testutil.ToFloat64(inFlightRequests)
	c.RequestStarted()
	if got := testutil.ToFloat64(inFlightRequests); got != inFlight+1 {
		t.Errorf("in flight = %v, want %v", got, inFlight+1)
	}
	c.RequestFinished()
	if got := testutil.ToFloat64(inFlightRequests); got != inFlight {
		t.Errorf("in flight = %v, want %v", got, inFlight)
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.ObservePhase("rendering", "ok", 150*time.Millisecond)
	m.IncGateFailure("scope", "fatal")
	m.IncGateFailure("scope", "fatal")
	m.IncRetry("validation")
	m.IncFallback()
	m.IncOutcome("success")
	m.ObserveCompile(true)
	m.ObserveCompile(false)
	done := m.RequestStarted()

	if got := testutil.ToFloat64(m.gateFailures.WithLabelValues("scope", "fatal")); got != 2 {
		t.Fatalf("expected 2 scope failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("validation")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.fallbacks); got != 1 {
		t.Fatalf("expected 1 fallback, got %v", got)
	}
	if got := testutil.ToFloat64(m.compileCache.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.active); got != 1 {
		t.Fatalf("expected 1 active request, got %v", got)
	}
	done()
	if got := testutil.ToFloat64(m.active); got != 0 {
		t.Fatalf("expected no active requests, got %v", got)
	}
	if got := testutil.CollectAndCount(m.phaseDuration); got != 1 {
		t.Fatalf("expected one phase series, got %d", got)
	}
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncFallback()
	if got := testutil.ToFloat64(second.fallbacks); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObservePhase("planning", "ok", time.Second)
	m.IncGateFailure("safety", "fatal")
	m.IncRetry("compilation")
	m.IncFallback()
	m.IncOutcome("failure")
	m.ObserveCompile(true)
	m.RequestStarted()()
}

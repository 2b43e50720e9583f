// Package metrics exposes Prometheus collectors for pipeline activity.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports phase durations, gate failures, retries, fallbacks and in-flight requests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	phaseDuration *prometheus.HistogramVec
	gateFailures  *prometheus.CounterVec
	retries       *prometheus.CounterVec
	fallbacks     prometheus.Counter
	outcomes      *prometheus.CounterVec
	compileCache  *prometheus.CounterVec
	active        prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics registers the collectors with reg, reusing collectors that are already
// registered under the same names. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genui",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each pipeline phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "status"}),
		gateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genui",
			Subsystem: "validate",
			Name:      "gate_failures_total",
			Help:      "Gate verdicts that rejected or flagged a component.",
		}, []string{"gate", "severity"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genui",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Render attempts retried with feedback, by failure kind.",
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "genui",
			Subsystem: "sandbox",
			Name:      "fallbacks_total",
			Help:      "Renders answered by the generic data view.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genui",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Completed requests by outcome.",
		}, []string{"outcome"}),
		compileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genui",
			Subsystem: "sandbox",
			Name:      "compile_cache_total",
			Help:      "Compile cache lookups by result.",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "genui",
			Subsystem: "pipeline",
			Name:      "requests_active",
			Help:      "Requests currently being processed.",
		}),
	}

	m.phaseDuration = register(reg, m.phaseDuration)
	m.gateFailures = register(reg, m.gateFailures)
	m.retries = register(reg, m.retries)
	m.fallbacks = register(reg, m.fallbacks)
	m.outcomes = register(reg, m.outcomes)
	m.compileCache = register(reg, m.compileCache)
	m.active = register(reg, m.active)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObservePhase records the time spent in a phase.
func (m *Metrics) ObservePhase(phase, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// IncGateFailure counts a failing or advisory gate verdict.
func (m *Metrics) IncGateFailure(gate, severity string) {
	if m == nil {
		return
	}
	m.gateFailures.WithLabelValues(gate, severity).Inc()
}

// IncRetry counts a retried render attempt.
func (m *Metrics) IncRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

// IncFallback counts a fallback view.
func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// IncOutcome counts a completed request.
func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// ObserveCompile counts a compile cache lookup.
func (m *Metrics) ObserveCompile(cached bool) {
	if m == nil {
		return
	}
	result := "miss"
	if cached {
		result = "hit"
	}
	m.compileCache.WithLabelValues(result).Inc()
}

// RequestStarted increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) RequestStarted() func() {
	if m == nil {
		return func() {}
	}
	m.active.Inc()
	return m.active.Dec
}

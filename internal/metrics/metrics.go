// Package metrics holds the service's prometheus collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Start outcomes.
const (
	StartStarted     = "started"
	StartConflict    = "conflict"
	StartTimeout     = "timeout"
	StartEngineError = "engine_error"
	StartStoreError  = "store_error"
)

// Lock release reasons.
const (
	ReleaseStartFailed = "start_failed"
	ReleaseTerminal    = "terminal"
	ReleaseGC          = "gc"
)

// Metrics is the set of collectors registered on one registry.
type Metrics struct {
	registry      *prometheus.Registry
	startTotal    *prometheus.CounterVec
	releasedTotal *prometheus.CounterVec
	sweepsTotal   *prometheus.CounterVec
	evaluated     *prometheus.CounterVec
}

// New registers the collectors on a fresh registry alongside the process and Go collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		startTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_start_total",
			Help: "Recording start attempts by outcome.",
		}, []string{"outcome"}),
		releasedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_lock_released_total",
			Help: "Recording locks released by reason.",
		}, []string{"reason"}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gc_sweeps_total",
			Help: "Orphaned-lock sweeps by result.",
		}, []string{"result"}),
		evaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gc_locks_evaluated_total",
			Help: "Locks evaluated by the orphaned-lock collector, by decision.",
		}, []string{"decision"}),
	}
	m.registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		m.startTotal, m.releasedTotal, m.sweepsTotal, m.evaluated,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) StartOutcome(outcome string) {
	if m == nil {
		return
	}
	m.startTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LockReleased(reason string) {
	if m == nil {
		return
	}
	m.releasedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Sweep(result string) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) LockEvaluated(decision string) {
	if m == nil {
		return
	}
	m.evaluated.WithLabelValues(decision).Inc()
}

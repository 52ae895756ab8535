// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for a formpilot process. All
// methods are safe on a nil receiver, which records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	fields        *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	valueRequests *prometheus.CounterVec
	generation    *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_total",
			Help:      "Fields processed by the interaction driver, by control type and outcome.",
		}, []string{"type", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigation_decisions_total",
			Help:      "Navigation verdicts after a proceed attempt.",
		}, []string{"decision"}),
		valueRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "value_requests_total",
			Help:      "Value source requests, by kind and how they were served.",
		}, []string{"kind", "source"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of value generator calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished flow runs by final status.",
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Flow runs currently in progress.",
		}),
	}
	m.registry.MustRegister(
		m.fields, m.decisions, m.valueRequests, m.generation, m.runs, m.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveField(controlType, status string) {
	if m == nil {
		return
	}
	m.fields.WithLabelValues(controlType, status).Inc()
}

func (m *Metrics) ObserveDecision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveValueRequest(kind, source string) {
	if m == nil {
		return
	}
	m.valueRequests.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) ObserveGeneration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(kind).Observe(d.Seconds())
}

// RunStarted marks a run as in flight. The returned func records its final status.
func (m *Metrics) RunStarted() func(status string) {
	if m == nil {
		return func(string) {}
	}
	m.activeRuns.Inc()
	return func(status string) {
		m.activeRuns.Dec()
		m.runs.WithLabelValues(status).Inc()
	}
}

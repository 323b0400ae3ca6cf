// Package metrics holds the Prometheus collectors for the draft lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	// DraftsTotal counts draft requests by agent and outcome (ok or an
	// error kind).
	DraftsTotal *prometheus.CounterVec
	// TransitionsTotal counts status changes by agent and target status.
	TransitionsTotal *prometheus.CounterVec
	RepairsTotal     *prometheus.CounterVec
	ModelLatency     *prometheus.HistogramVec
	ApplyDuration    *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
}

// New registers the collectors, plus Go and process collectors, on a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		DraftsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kairos_drafts_total",
			Help: "Draft requests by agent and outcome.",
		}, []string{"agent", "outcome"}),
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kairos_draft_transitions_total",
			Help: "Draft status transitions by agent and target status.",
		}, []string{"agent", "status"}),
		RepairsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kairos_repairs_total",
			Help: "Repair calls made to the model while drafting.",
		}, []string{"agent"}),
		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kairos_model_latency_seconds",
			Help:    "Latency of the initial completion per draft.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"agent"}),
		ApplyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kairos_apply_duration_seconds",
			Help:    "Duration of the apply transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kairos_errors_total",
			Help: "Failed operations by operation and error kind.",
		}, []string{"operation", "kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Draft(agent, outcome string) {
	if m == nil {
		return
	}
	m.DraftsTotal.WithLabelValues(agent, outcome).Inc()
}

func (m *Metrics) Transition(agent, status string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(agent, status).Inc()
}

func (m *Metrics) Repairs(agent string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RepairsTotal.WithLabelValues(agent).Add(float64(n))
}

func (m *Metrics) ObserveModel(agent string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLatency.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) ObserveApply(agent string, d time.Duration) {
	if m == nil {
		return
	}
	m.ApplyDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) Error(operation, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(operation, kind).Inc()
}

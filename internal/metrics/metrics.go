package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inflight      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetscribe",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetscribe",
			Name:      "pipeline_failures_total",
			Help:      "Failed runs by stage and error kind.",
		}, []string{"stage", "kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meetscribe",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meetscribe",
			Name:      "pipeline_inflight",
			Help:      "Runs currently in progress.",
		}),
	}
	reg.MustRegister(
		m.runs, m.failures, m.stageDuration, m.inflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// RunFinished records the outcome. stage and kind are empty on success.
func (m *Metrics) RunFinished(stage, kind string) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	if kind == "" {
		m.runs.WithLabelValues("success").Inc()
		return
	}
	m.runs.WithLabelValues("failure").Inc()
	m.failures.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

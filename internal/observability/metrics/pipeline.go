package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics tracks compression probes and core quality. It implements
// ports.ProbeObserver and ports.RefinementObserver.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	probeTotal       *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	categoryAccuracy *prometheus.GaugeVec
	refinementSteps  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	probeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccl",
			Subsystem: "oracle",
			Name:      "probes_total",
			Help:      "Total compression probes by operation and status.",
		},
		[]string{"service", "operation", "status"},
	)
	probeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ccl",
			Subsystem: "oracle",
			Name:      "probe_duration_seconds",
			Help:      "Compression probe duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)
	categoryAccuracy := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ccl",
			Subsystem: "classifier",
			Name:      "category_accuracy_percent",
			Help:      "Last measured classification accuracy per category.",
		},
		[]string{"service", "category"},
	)
	refinementSteps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccl",
			Subsystem: "refiner",
			Name:      "accepted_steps_total",
			Help:      "Total documents accepted into refined cores.",
		},
		[]string{"service", "category"},
	)

	registry.MustRegister(probeTotal, probeDuration, categoryAccuracy, refinementSteps)

	return &PipelineMetrics{
		registry:         registry,
		service:          service,
		probeTotal:       probeTotal,
		probeDuration:    probeDuration,
		categoryAccuracy: categoryAccuracy,
		refinementSteps:  refinementSteps,
	}
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ObserveProbe(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.probeTotal.WithLabelValues(m.service, operation, status).Inc()
	m.probeDuration.WithLabelValues(m.service, operation).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveAccuracy(category string, accuracy float64) {
	m.categoryAccuracy.WithLabelValues(m.service, category).Set(accuracy)
}

func (m *PipelineMetrics) ObserveRefinementStep(category string) {
	m.refinementSteps.WithLabelValues(m.service, category).Inc()
}

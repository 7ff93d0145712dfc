package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal          *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	requestInFlight       prometheus.Gauge
	classificationsTotal  *prometheus.CounterVec
	uploadedDocumentBytes *prometheus.HistogramVec
}

// NewHTTPServerMetrics registers request metrics on registry so the API
// serves them next to the pipeline metrics. A nil registry gets a fresh one.
func NewHTTPServerMetrics(service string, registry *prometheus.Registry) *HTTPServerMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ccl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ccl",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccl",
			Subsystem: "classifier",
			Name:      "requests_total",
			Help:      "Classification requests by outcome and predicted category.",
		},
		[]string{"service", "outcome", "category"},
	)
	uploadedDocumentBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ccl",
			Subsystem: "classifier",
			Name:      "document_bytes",
			Help:      "Size of documents submitted for classification.",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 8),
		},
		[]string{"service"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight, classificationsTotal, uploadedDocumentBytes)

	return &HTTPServerMetrics{
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		classificationsTotal:  classificationsTotal,
		uploadedDocumentBytes: uploadedDocumentBytes,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded for unknown paths.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/v1/cores", "/v1/classify":
		return path
	}
	if strings.HasPrefix(path, "/v1/") {
		return "/v1/other"
	}
	return "other"
}

// RecordClassification counts one verdict. Outcome is "predicted",
// "undetermined" or "error"; category is empty unless predicted.
func (m *HTTPServerMetrics) RecordClassification(service, outcome, category string, documentBytes int64) {
	if category == "" {
		category = "none"
	}
	m.classificationsTotal.WithLabelValues(service, outcome, category).Inc()
	if documentBytes > 0 {
		m.uploadedDocumentBytes.WithLabelValues(service).Observe(float64(documentBytes))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

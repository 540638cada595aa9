// Package metrics exposes Prometheus instrumentation for the transcription
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the voice transcription service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// Webhook delivery metrics
	WebhookDeliveries *prometheus.CounterVec
	WebhookAttempts   prometheus.Counter
}

// NewMetrics creates all collectors on a dedicated registry, so multiple
// instances can coexist within one process.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vts_http_requests_total",
			Help: "Total number of HTTP requests by method, endpoint and status",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vts_http_request_duration_seconds",
			Help:    "HTTP request processing time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vts_transcriptions_total",
			Help: "Total number of transcription attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vts_transcription_duration_seconds",
			Help:    "Wall-clock time spent in the speech engine in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5 minutes
		}),

		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vts_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by kind and outcome",
		}, []string{"kind", "outcome"}),
		WebhookAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vts_webhook_attempts_total",
			Help: "Total number of individual webhook POST attempts",
		}),
	}
}

// Handler serves the metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordTranscription records one engine call and its wall-clock time.
func (m *Metrics) RecordTranscription(backend, outcome string, durationSeconds float64) {
	m.Transcriptions.WithLabelValues(backend, outcome).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordWebhookDelivery records the final outcome of one delivery.
func (m *Metrics) RecordWebhookDelivery(kind string, delivered bool) {
	outcome := "failure"
	if delivered {
		outcome = "success"
	}
	m.WebhookDeliveries.WithLabelValues(kind, outcome).Inc()
}

// RecordWebhookAttempt records one POST attempt, successful or not.
func (m *Metrics) RecordWebhookAttempt() {
	m.WebhookAttempts.Inc()
}

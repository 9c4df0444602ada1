package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Message flow through channels (Telegram, HTTP API)
//   - Ingestion pipeline throughput by payload kind
//   - HTTP API request latency and status codes
//   - Error rates categorized by component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.MessageReceived("telegram", "inbound")
type Metrics struct {
	// MessageCounter tracks messages by channel and direction.
	// Labels: channel (telegram|http), direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// IngestCounter counts ingested payloads.
	// Labels: kind (text|voice|image), status (success|error)
	IngestCounter *prometheus.CounterVec

	// IngestDuration measures ingestion pipeline latency in seconds.
	// Labels: kind
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	IngestDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (agent|channel|ingest|api), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry. This should be called once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates the metrics on a specific registerer. Tests pass
// a fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_messages_total",
				Help: "Total number of messages processed by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		IngestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_ingest_total",
				Help: "Total number of ingested payloads by kind and status",
			},
			[]string{"kind", "status"},
		),

		IngestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_ingest_duration_seconds",
				Help:    "Duration of ingestion pipeline runs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// MessageReceived increments the message counter for a given channel and direction.
//
// Example:
//
//	metrics.MessageReceived("telegram", "inbound")
func (m *Metrics) MessageReceived(channel, direction string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, direction).Inc()
}

// MessageSent increments the message counter for outbound messages.
func (m *Metrics) MessageSent(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordIngest records one ingestion pipeline run.
//
// Example:
//
//	start := time.Now()
//	// ... ingest payload ...
//	metrics.RecordIngest("voice", "success", time.Since(start).Seconds())
func (m *Metrics) RecordIngest(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.IngestCounter.WithLabelValues(kind, status).Inc()
	m.IngestDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("POST", "/ingest", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("channel", "send_failed")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// QueriesTotal tracks queries forwarded to the backend by kind and outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queries_total",
			Help: "Queries created against the execution backend",
		},
		[]string{"kind", "status"},
	)

	// RelaySessionsActive tracks open relay sessions.
	RelaySessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Number of open stream relay sessions",
		},
	)

	// RelaySessionDuration tracks relay session lifetime from open to terminal.
	RelaySessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Stream relay session duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		},
		[]string{"outcome"},
	)

	// StreamEventsTotal tracks relayed stream events by type.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Stream events relayed downstream",
		},
		[]string{"type"},
	)

	// SuggestionRequestsTotal tracks follow-up suggestion generation calls.
	SuggestionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestion_requests_total",
			Help: "Follow-up suggestion generation requests",
		},
		[]string{"status"},
	)

	// JournalPublishTotal tracks turn lifecycle events published to JetStream.
	JournalPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_publish_total",
			Help: "Turn lifecycle events published to the journal",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStreamEvent counts one relayed stream event.
func RecordStreamEvent(eventType string) {
	StreamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRelaySession records a finished relay session.
func RecordRelaySession(outcome string, seconds float64) {
	RelaySessionDuration.WithLabelValues(outcome).Observe(seconds)
}

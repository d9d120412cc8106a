// Package prometheus implements the metrics interfaces on the Prometheus
// client library.
package prometheus

import (
	"time"

	"github.com/marmos91/gopherd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gopherMetrics is the Prometheus implementation of metrics.GopherMetrics.
type gopherMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	bytesSent              *prometheus.CounterVec
	throttledTotal         *prometheus.CounterVec
	activeSessions         prometheus.Gauge
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	connectionsRejected    *prometheus.CounterVec
}

// NewGopherMetrics creates a Prometheus-backed GopherMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewGopherMetrics() metrics.GopherMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopGopherMetrics()
	}

	reg := metrics.GetRegistry()

	return &gopherMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopherd_requests_total",
				Help: "Total number of gopher requests by kind, item type and status",
			},
			[]string{"kind", "type", "status", "error_code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gopherd_request_duration_milliseconds",
				Help: "Duration of gopher requests in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"kind"},
		),
		bytesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopherd_bytes_sent_total",
				Help: "Total response bytes written to clients",
			},
			[]string{"kind"},
		),
		throttledTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopherd_throttled_total",
				Help: "Requests that exceeded their session hit or kbyte thresholds",
			},
			[]string{"action"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gopherd_active_sessions",
				Help: "Current number of live session slots",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gopherd_active_connections",
				Help: "Current number of active gopher connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gopherd_connections_accepted_total",
				Help: "Total number of gopher connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gopherd_connections_closed_total",
				Help: "Total number of gopher connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gopherd_connections_force_closed_total",
				Help: "Total number of gopher connections force-closed during shutdown timeout",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopherd_connections_rejected_total",
				Help: "Connections refused before being served",
			},
			[]string{"reason"},
		),
	}
}

func (m *gopherMetrics) RecordRequest(kind string, itemType string, duration time.Duration, errorCode string) {
	status := "success"
	if errorCode != "" {
		status = "error"
	}

	m.requestsTotal.WithLabelValues(kind, itemType, status, errorCode).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *gopherMetrics) RecordBytesSent(kind string, bytes int64) {
	if bytes > 0 {
		m.bytesSent.WithLabelValues(kind).Add(float64(bytes))
	}
}

func (m *gopherMetrics) RecordThrottled(action string) {
	m.throttledTotal.WithLabelValues(action).Inc()
}

func (m *gopherMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *gopherMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *gopherMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *gopherMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *gopherMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *gopherMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

package metrics

import "time"

// GopherMetrics provides observability for the gopher adapter and request
// pipeline.
//
// Implementations collect request outcomes, bytes sent, throttling and the
// connection lifecycle. If not provided, a no-op implementation is used
// with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewGopherMetrics()
//	adapter := gopher.New(config, handler, m)
//
//	// Without metrics (no-op)
//	adapter := gopher.New(config, handler, nil)
type GopherMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - kind: Dispatch kind ("menu", "file", "cgi", "status", "redirect", "error")
	//   - itemType: Gopher item type character of the resource
	//   - duration: Time taken to process the request
	//   - errorCode: Error code name if the request failed, empty on success
	RecordRequest(kind string, itemType string, duration time.Duration, errorCode string)

	// RecordBytesSent records response bytes written to the client.
	//
	// Parameters:
	//   - kind: Dispatch kind, as in RecordRequest
	//   - bytes: Number of bytes written
	RecordBytesSent(kind string, bytes int64)

	// RecordThrottled records a request that exceeded its session thresholds.
	//
	// Parameters:
	//   - action: Policy applied ("delay" or "deny")
	RecordThrottled(action string)

	// SetActiveSessions updates the number of live session slots.
	SetActiveSessions(count int)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed increments the counter of connections
	// closed because graceful shutdown timed out.
	RecordConnectionForceClosed()

	// RecordConnectionRejected increments the counter of connections refused
	// by the accept rate limiter or the connection limit.
	//
	// Parameters:
	//   - reason: "rate_limit" or "max_connections"
	RecordConnectionRejected(reason string)
}

// NewNoopGopherMetrics returns a GopherMetrics that discards everything.
func NewNoopGopherMetrics() GopherMetrics {
	return noopGopherMetrics{}
}

// noopGopherMetrics is a no-op implementation of GopherMetrics.
type noopGopherMetrics struct{}

func (noopGopherMetrics) RecordRequest(kind string, itemType string, duration time.Duration, errorCode string) {
}
func (noopGopherMetrics) RecordBytesSent(kind string, bytes int64) {}
func (noopGopherMetrics) RecordThrottled(action string)            {}
func (noopGopherMetrics) SetActiveSessions(count int)              {}
func (noopGopherMetrics) SetActiveConnections(count int32)         {}
func (noopGopherMetrics) RecordConnectionAccepted()                {}
func (noopGopherMetrics) RecordConnectionClosed()                  {}
func (noopGopherMetrics) RecordConnectionForceClosed()             {}
func (noopGopherMetrics) RecordConnectionRejected(reason string)   {}

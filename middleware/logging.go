// Package middleware provides the request pipeline every outgoing API
// call passes through: logging, tracing, metrics, and the
// credential/CSRF decoration with transparent 401 recovery. Stages are
// explicit http.RoundTripper decorators composed at client
// construction time.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const TraceIDHeader = "X-Trace-ID"
const TraceParentHeader = "traceparent"

// OutgoingTraceID picks the trace-id to attach to an outgoing request:
// an existing traceparent or X-Trace-ID header wins, otherwise a new
// one is generated.
func OutgoingTraceID(req *http.Request) string {
	// Try W3C Trace Context first (traceparent header)
	if traceParent := req.Header.Get(TraceParentHeader); traceParent != "" {
		// traceparent format: version-trace_id-parent_id-flags
		parts := splitTraceParent(traceParent)
		if len(parts) >= 2 && parts[1] != "" {
			return parts[1]
		}
	}

	if traceID := req.Header.Get(TraceIDHeader); traceID != "" {
		return traceID
	}

	return generateTraceID()
}

// splitTraceParent splits traceparent header value
func splitTraceParent(traceParent string) []string {
	// Simple split by hyphen, traceparent format: 00-<trace_id>-<parent_id>-<flags>
	parts := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(traceParent); i++ {
		if traceParent[i] == '-' {
			if start < i {
				parts = append(parts, traceParent[start:i])
			}
			start = i + 1
		}
	}
	if start < len(traceParent) {
		parts = append(parts, traceParent[start:])
	}
	return parts
}

// generateTraceID generates a trace-id using random bytes
func generateTraceID() string {
	// Generate 16 random bytes (32 hex characters)
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// LoggingTransport logs every outgoing request with a trace-id, the
// method, path, status and duration. Requests that fail at the
// transport level or come back >= 400 log at error level.
type LoggingTransport struct {
	next http.RoundTripper
}

// NewLoggingTransport wraps next with request logging.
func NewLoggingTransport(next http.RoundTripper) *LoggingTransport {
	return &LoggingTransport{next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	traceID := OutgoingTraceID(req)

	// RoundTrippers must not mutate the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set(TraceIDHeader, traceID)

	logger := log.With().Str("trace_id", traceID).Logger()

	resp, err := t.next.RoundTrip(out)

	duration := time.Since(start)

	var event *zerolog.Event
	switch {
	case err != nil:
		event = logger.Error().Err(err)
	case resp.StatusCode >= 400:
		event = logger.Error()
	default:
		event = logger.Info()
	}

	event = event.
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", duration)
	if resp != nil {
		event = event.Int("status", resp.StatusCode)
	}
	event.Msg("HTTP request")

	return resp, err
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh trigger labels.
const (
	RefreshTriggerScheduled = "scheduled"
	RefreshTriggerRecovery  = "recovery"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_client_requests_total",
		Help: "Outgoing API requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_client_request_duration_seconds",
		Help:    "Outgoing API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_client_refresh_total",
		Help: "Credential refresh attempts by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_client_retries_total",
		Help: "Requests re-dispatched after a successful recovery refresh.",
	})
)

// RecordRefresh counts a refresh attempt. trigger is one of the
// RefreshTrigger constants.
func RecordRefresh(trigger string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	refreshTotal.WithLabelValues(trigger, outcome).Inc()
}

func recordRetry() {
	retriesTotal.Inc()
}

// MetricsTransport records request counts and durations for every
// outgoing request.
type MetricsTransport struct {
	next http.RoundTripper
}

// NewMetricsTransport wraps next with Prometheus instrumentation.
func NewMetricsTransport(next http.RoundTripper) *MetricsTransport {
	return &MetricsTransport{next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *MetricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.next.RoundTrip(req)

	requestDuration.WithLabelValues(req.Method, req.URL.Path).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	requestsTotal.WithLabelValues(req.Method, req.URL.Path, status).Inc()

	return resp, err
}

// Package core assembles the shared HTTP infrastructure: one cookie
// jar holding the server-issued credential cookies, and the middleware
// pipeline every outgoing API request passes through.
package core

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/duynhne/portfolio-client/config"
	"github.com/duynhne/portfolio-client/middleware"
)

// NewHTTPClient builds the pipeline client: auth recovery wraps
// tracing wraps logging wraps metrics, mirroring the order the server
// side applies the same concerns. The returned AuthTransport still
// needs its Refresher bound once the auth service exists.
func NewHTTPClient(cfg *config.Config) (*http.Client, *middleware.AuthTransport, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create cookie jar: %w", err)
	}

	var rt http.RoundTripper = http.DefaultTransport
	rt = middleware.NewMetricsTransport(rt)
	rt = middleware.NewLoggingTransport(rt)
	rt = middleware.NewTracingTransport(rt)
	auth := middleware.NewAuthTransport(rt, jar)

	client := &http.Client{
		Transport: auth,
		Jar:       jar,
		Timeout:   cfg.GetHTTPTimeoutDuration(),
	}

	return client, auth, nil
}

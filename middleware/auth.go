package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// XSRFCookieName is the client-readable anti-forgery cookie the
// backend issues alongside the HttpOnly credential cookies.
const XSRFCookieName = "XSRF-TOKEN"

// XSRFHeaderName carries the anti-forgery value on state-changing
// requests.
const XSRFHeaderName = "X-XSRF-TOKEN"

// apiPrefix scopes the pipeline: anything outside it passes through
// untouched.
const apiPrefix = "/api"

// Refresher rotates the credential pair. Implemented by the auth
// service; bound late via SetRefresher because the service itself is
// built on top of the pipeline client.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// refreshRound is one recovery attempt shared by every request that
// hit a 401 while it was in flight. done is closed exactly once, after
// ok is set.
type refreshRound struct {
	done chan struct{}
	ok   bool
}

// AuthTransport decorates API requests with the anti-forgery header
// and transparently recovers from an expired access credential:
// on a 401 it coordinates a single in-flight refresh that concurrent
// failures wait on, then re-dispatches the original request exactly
// once.
//
// The credential cookies themselves ride via the http.Client's cookie
// jar; this transport only needs the jar to re-attach fresh cookies on
// the retry, since the client stamped the Cookie header before the
// first dispatch.
type AuthTransport struct {
	next http.RoundTripper
	jar  http.CookieJar

	mu        sync.Mutex
	round     *refreshRound
	refresher Refresher
}

// NewAuthTransport creates the decoration/recovery stage around next.
func NewAuthTransport(next http.RoundTripper, jar http.CookieJar) *AuthTransport {
	return &AuthTransport{next: next, jar: jar}
}

// SetRefresher binds the refresh implementation. Until it is set, 401
// responses pass through without recovery.
func (t *AuthTransport) SetRefresher(r Refresher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refresher = r
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.HasPrefix(req.URL.Path, apiPrefix) {
		return t.next.RoundTrip(req)
	}

	out := t.decorate(req)

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || authExempt(req.URL.Path) {
		return resp, nil
	}

	t.mu.Lock()
	refresher := t.refresher
	t.mu.Unlock()
	if refresher == nil {
		return resp, nil
	}

	if !t.awaitRefresh(req, refresher) {
		// Refresh failed: surface the original authorization failure.
		return resp, nil
	}

	retry, retryErr := t.replay(req)
	if retryErr != nil {
		// Body not replayable; the original failure stands.
		log.Warn().Err(retryErr).Str("path", req.URL.Path).Msg("Cannot retry request after refresh")
		return resp, nil
	}

	drain(resp)
	recordRetry()
	// One retry only: a second 401 propagates as-is.
	return t.next.RoundTrip(retry)
}

// awaitRefresh ensures exactly one refresh is in flight and reports
// whether it succeeded. The caller either becomes the leader (starting
// the refresh) or joins the round already running.
func (t *AuthTransport) awaitRefresh(req *http.Request, refresher Refresher) bool {
	t.mu.Lock()
	if t.round != nil {
		round := t.round
		t.mu.Unlock()

		select {
		case <-round.done:
			return round.ok
		case <-req.Context().Done():
			return false
		}
	}

	round := &refreshRound{done: make(chan struct{})}
	t.round = round
	t.mu.Unlock()

	// Detached from the triggering request's cancellation: other
	// requests are waiting on this round, and one caller going away
	// must not fail the refresh for everyone.
	err := refresher.Refresh(context.WithoutCancel(req.Context()))

	t.mu.Lock()
	round.ok = err == nil
	t.round = nil
	t.mu.Unlock()
	close(round.done)

	RecordRefresh(RefreshTriggerRecovery, round.ok)
	if err != nil {
		log.Warn().Err(err).Str("path", req.URL.Path).Msg("Recovery refresh failed")
	}
	return round.ok
}

// decorate attaches the anti-forgery header to state-changing verbs.
// A missing XSRF cookie is not an error here; the server rejects the
// request if it required one.
func (t *AuthTransport) decorate(req *http.Request) *http.Request {
	if !mutating(req.Method) {
		return req
	}

	token := t.xsrfToken(req)
	if token == "" {
		return req
	}

	out := req.Clone(req.Context())
	out.Header.Set(XSRFHeaderName, token)
	return out
}

// replay rebuilds the original request for the post-refresh retry:
// fresh body from GetBody, fresh cookies from the jar (the Cookie
// header stamped by the http.Client still holds the expired access
// token), fresh anti-forgery header (the XSRF cookie may have rotated).
func (t *AuthTransport) replay(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())

	if req.Body != nil {
		if req.GetBody == nil {
			return nil, errNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}

	if t.jar != nil {
		out.Header.Del("Cookie")
		for _, c := range t.jar.Cookies(req.URL) {
			out.AddCookie(c)
		}
	}

	if mutating(req.Method) {
		out.Header.Del(XSRFHeaderName)
		if token := t.xsrfToken(req); token != "" {
			out.Header.Set(XSRFHeaderName, token)
		}
	}

	return out, nil
}

func (t *AuthTransport) xsrfToken(req *http.Request) string {
	if t.jar == nil {
		return ""
	}
	for _, c := range t.jar.Cookies(req.URL) {
		if c.Name == XSRFCookieName {
			return c.Value
		}
	}
	return ""
}

// authExempt reports whether a 401 on this path must never trigger
// recovery: a rejected login means bad credentials, and a rejected
// refresh is the recovery path itself failing.
func authExempt(path string) bool {
	return strings.Contains(path, "/auth/login") || strings.Contains(path, "/auth/refresh")
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// drain releases a response we are about to replace so its connection
// can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

var errNotReplayable = errors.New("request body is not replayable")

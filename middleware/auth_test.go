package middleware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duynhne/portfolio-client/middleware"
)

// countingRefresher is a Refresher test double with a controllable
// outcome and duration.
type countingRefresher struct {
	calls    int32
	err      error
	delay    time.Duration
	onCalled func()
}

func (r *countingRefresher) Refresh(ctx context.Context) error {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.onCalled != nil {
		r.onCalled()
	}
	return r.err
}

func (r *countingRefresher) Calls() int {
	return int(atomic.LoadInt32(&r.calls))
}

// newPipeline builds an http.Client whose transport is just the auth
// stage over the default transport, with a fresh jar.
func newPipeline(t *testing.T) (*http.Client, *middleware.AuthTransport, http.CookieJar) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	authRT := middleware.NewAuthTransport(http.DefaultTransport, jar)
	return &http.Client{Transport: authRT, Jar: jar, Timeout: 10 * time.Second}, authRT, jar
}

func seedXSRFCookie(t *testing.T, jar http.CookieJar, serverURL, value string) {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	jar.SetCookies(u, []*http.Cookie{{Name: middleware.XSRFCookieName, Value: value, Path: "/"}})
}

func mustDo(t *testing.T, client *http.Client, method, url string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestXSRFHeaderAttachedToMutatingRequests(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get(middleware.XSRFHeaderName))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _, jar := newPipeline(t)
	seedXSRFCookie(t, jar, srv.URL, "abc123")

	resp := mustDo(t, client, http.MethodPut, srv.URL+"/api/projects/1", `{"title":"x"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := gotHeader.Load(); got != "abc123" {
		t.Fatalf("expected X-XSRF-TOKEN: abc123, got %q", got)
	}
}

func TestNoXSRFHeaderOnReads(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get(middleware.XSRFHeaderName))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _, jar := newPipeline(t)
	seedXSRFCookie(t, jar, srv.URL, "abc123")

	mustDo(t, client, http.MethodGet, srv.URL+"/api/projects", "")
	if got := gotHeader.Load(); got != "" {
		t.Fatalf("GET must not carry the anti-forgery header, got %q", got)
	}
}

func TestMissingXSRFCookieProceedsWithoutHeader(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get(middleware.XSRFHeaderName))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _, _ := newPipeline(t)

	resp := mustDo(t, client, http.MethodPost, srv.URL+"/api/contact", `{"name":"a"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := gotHeader.Load(); got != "" {
		t.Fatalf("expected no header without a cookie, got %q", got)
	}
}

func TestNonAPIRequestsBypassThePipeline(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get(middleware.XSRFHeaderName))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, authRT, jar := newPipeline(t)
	seedXSRFCookie(t, jar, srv.URL, "abc123")
	refresher := &countingRefresher{}
	authRT.SetRefresher(refresher)

	resp := mustDo(t, client, http.MethodPost, srv.URL+"/assets/upload", "data")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the raw 401, got %d", resp.StatusCode)
	}
	if got := gotHeader.Load(); got != "" {
		t.Fatalf("non-API requests must not be decorated, got header %q", got)
	}
	if refresher.Calls() != 0 {
		t.Fatalf("non-API 401 must not trigger recovery, got %d refreshes", refresher.Calls())
	}
}

func TestLoginAndRefreshAreExemptFromRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, authRT, _ := newPipeline(t)
	refresher := &countingRefresher{}
	authRT.SetRefresher(refresher)

	for _, path := range []string{"/api/auth/login", "/api/auth/refresh"} {
		resp := mustDo(t, client, http.MethodPost, srv.URL+path, `{}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 passthrough, got %d", path, resp.StatusCode)
		}
	}
	if refresher.Calls() != 0 {
		t.Fatalf("exempt paths must never trigger recovery, got %d refreshes", refresher.Calls())
	}
}

func TestSuccessfulRecoveryRetriesExactlyOnce(t *testing.T) {
	var dataHits int32
	var refreshed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dataHits, 1)
		if refreshed.Load() {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{"ok":true}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, authRT, _ := newPipeline(t)
	refresher := &countingRefresher{onCalled: func() { refreshed.Store(true) }}
	authRT.SetRefresher(refresher)

	resp := mustDo(t, client, http.MethodGet, srv.URL+"/api/data", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected transparent recovery, got %d", resp.StatusCode)
	}
	if refresher.Calls() != 1 {
		t.Fatalf("expected 1 refresh, got %d", refresher.Calls())
	}
	if got := atomic.LoadInt32(&dataHits); got != 2 {
		t.Fatalf("expected original + one retry = 2 hits, got %d", got)
	}
}

func TestSecond401AfterRetryPropagates(t *testing.T) {
	var dataHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dataHits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, authRT, _ := newPipeline(t)
	refresher := &countingRefresher{}
	authRT.SetRefresher(refresher)

	resp := mustDo(t, client, http.MethodGet, srv.URL+"/api/data", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the second 401 to propagate, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&dataHits); got != 2 {
		t.Fatalf("at most one retry per request: expected 2 hits, got %d", got)
	}
	if refresher.Calls() != 1 {
		t.Fatalf("the retry's 401 must not start another refresh, got %d", refresher.Calls())
	}
}

func TestFailedRefreshPropagatesOriginalFailure(t *testing.T) {
	var dataHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dataHits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, authRT, _ := newPipeline(t)
	refresher := &countingRefresher{err: errors.New("rotation credential revoked")}
	authRT.SetRefresher(refresher)

	resp := mustDo(t, client, http.MethodGet, srv.URL+"/api/data", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the original 401, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&dataHits); got != 1 {
		t.Fatalf("no retry after failed refresh: expected 1 hit, got %d", got)
	}
	if refresher.Calls() != 1 {
		t.Fatalf("expected 1 refresh attempt, got %d", refresher.Calls())
	}
}

func TestConcurrentFailuresShareOneRefresh(t *testing.T) {
	const n = 8

	var refreshed atomic.Bool
	var dataHits int32

	// Barrier: hold every first-round request until all n have arrived,
	// so all of them observe the expired credential simultaneously.
	var barrier sync.WaitGroup
	barrier.Add(n)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dataHits, 1)
		if refreshed.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		barrier.Done()
		barrier.Wait()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, authRT, _ := newPipeline(t)
	refresher := &countingRefresher{
		delay:    100 * time.Millisecond,
		onCalled: func() { refreshed.Store(true) },
	}
	authRT.SetRefresher(refresher)

	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
			if err != nil {
				t.Errorf("build request: %v", err)
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	if refresher.Calls() != 1 {
		t.Fatalf("exactly one refresh must be issued for %d concurrent failures, got %d", n, refresher.Calls())
	}
	for i, status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("request %d: expected recovery to 200, got %d", i, status)
		}
	}
	// n original dispatches + n single retries.
	if got := atomic.LoadInt32(&dataHits); got != 2*n {
		t.Fatalf("every request retries at most once: expected %d hits, got %d", 2*n, got)
	}
}

func TestRetryReattachesFreshCookiesAndXSRF(t *testing.T) {
	var phase atomic.Int32 // 0: expired, 1: rotated
	var retryCookie atomic.Value
	var retryXSRF atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if phase.Load() == 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if c, err := r.Cookie("access_token"); err == nil {
			retryCookie.Store(c.Value)
		}
		retryXSRF.Store(r.Header.Get(middleware.XSRFHeaderName))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, authRT, jar := newPipeline(t)
	u, _ := url.Parse(srv.URL)
	jar.SetCookies(u, []*http.Cookie{
		{Name: "access_token", Value: "stale", Path: "/"},
		{Name: middleware.XSRFCookieName, Value: "old-xsrf", Path: "/"},
	})

	refresher := &countingRefresher{onCalled: func() {
		// Simulate the rotation the refresh endpoint performs.
		jar.SetCookies(u, []*http.Cookie{
			{Name: "access_token", Value: "rotated", Path: "/"},
			{Name: middleware.XSRFCookieName, Value: "new-xsrf", Path: "/"},
		})
		phase.Store(1)
	}}
	authRT.SetRefresher(refresher)

	resp := mustDo(t, client, http.MethodPost, srv.URL+"/api/projects", `{"title":"x"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected recovery, got %d", resp.StatusCode)
	}
	if got := retryCookie.Load(); got != "rotated" {
		t.Fatalf("retry must carry the rotated access cookie, got %q", got)
	}
	if got := retryXSRF.Load(); got != "new-xsrf" {
		t.Fatalf("retry must re-read the anti-forgery cookie, got %q", got)
	}
}

func TestNo401HandlingWithoutRefresher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _, _ := newPipeline(t)

	resp := mustDo(t, client, http.MethodGet, srv.URL+"/api/data", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected passthrough without a bound refresher, got %d", resp.StatusCode)
	}
}

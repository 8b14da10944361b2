package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/portfolio-client/internal/core/domain"
	"github.com/duynhne/portfolio-client/internal/core/session"
	"github.com/duynhne/portfolio-client/middleware"
)

// AuthService is the client-side gateway to the backend's identity
// endpoints and the sole writer of the session store. The access and
// rotation credentials live in HttpOnly cookies managed by the shared
// cookie jar; this service only tracks who is logged in and keeps the
// refresh cadence alive.
type AuthService struct {
	baseURL   string
	http      *http.Client
	store     *session.Store
	scheduler *RefreshScheduler
}

// NewAuthService creates an AuthService bound to the given pipeline
// HTTP client and session store. lifetime and buffer control the
// proactive refresh cadence (buffer strictly less than lifetime,
// enforced by config validation).
func NewAuthService(baseURL string, httpClient *http.Client, store *session.Store, lifetime, buffer time.Duration) *AuthService {
	s := &AuthService{
		baseURL: baseURL,
		http:    httpClient,
		store:   store,
	}
	s.scheduler = NewRefreshScheduler(lifetime, buffer, s.scheduledRefresh)
	return s
}

// Sessions exposes the read side of the session store.
func (s *AuthService) Sessions() domain.SessionStream {
	return s.store
}

// IsAuthenticated reports whether a user is currently logged in.
func (s *AuthService) IsAuthenticated() bool {
	return s.store.Current().Authenticated()
}

// Login authenticates against POST /api/auth/login. On success the
// backend sets the credential cookies, the returned user is published
// to the session store and the refresh scheduler is armed. On failure
// the session is left untouched and the error is surfaced as-is; login
// is never retried.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.UserInfo, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.login", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("username", username),
	))
	defer span.End()

	resp, err := s.do(ctx, http.MethodPost, "/api/auth/login", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("login user %q: %w", username, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// handled below
	case resp.StatusCode == http.StatusUnauthorized:
		span.SetAttributes(attribute.Bool("auth.success", false))
		span.AddEvent("authentication.failed")
		apiErr := decodeAPIError(resp.Body)
		if apiErr.RemainingAttempts != nil {
			log.Warn().Int("remaining_attempts", *apiErr.RemainingAttempts).Msg("Login rejected")
		}
		return nil, fmt.Errorf("login user %q: %w", username, ErrInvalidCredentials)
	case resp.StatusCode == http.StatusTooManyRequests:
		span.SetAttributes(attribute.Bool("auth.success", false))
		apiErr := decodeAPIError(resp.Body)
		return nil, fmt.Errorf("login user %q: %s: %w", username, apiErr.Error, ErrRateLimited)
	default:
		span.SetAttributes(attribute.Bool("auth.success", false))
		return nil, fmt.Errorf("login user %q: unexpected status %d", username, resp.StatusCode)
	}

	var user domain.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	s.store.Set(user)
	s.scheduler.Arm()

	span.SetAttributes(
		attribute.String("user.name", user.Username),
		attribute.Bool("auth.success", true),
	)
	span.AddEvent("user.authenticated")

	return &user, nil
}

// Register creates an account via POST /api/auth/register. It does not
// authenticate the session; callers log in separately afterwards.
func (s *AuthService) Register(ctx context.Context, username, email, password, fullName string) (*domain.UserInfo, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.register", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("username", username),
		attribute.String("email", email),
	))
	defer span.End()

	resp, err := s.do(ctx, http.MethodPost, "/api/auth/register", domain.RegisterRequest{
		Username: username,
		Password: password,
		Email:    email,
		FullName: fullName,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("register user %q: %w", username, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// handled below
	case resp.StatusCode == http.StatusConflict:
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, fmt.Errorf("register user %q: %w", username, ErrUserExists)
	case resp.StatusCode == http.StatusTooManyRequests:
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, fmt.Errorf("register user %q: %w", username, ErrRateLimited)
	case resp.StatusCode == http.StatusBadRequest:
		span.SetAttributes(attribute.Bool("registration.success", false))
		apiErr := decodeAPIError(resp.Body)
		// The backend reports duplicate accounts as a 400 with a
		// descriptive message rather than a dedicated status.
		return nil, fmt.Errorf("register user %q: %s: %w", username, apiErr.Error, ErrUserExists)
	default:
		span.SetAttributes(attribute.Bool("registration.success", false))
		return nil, fmt.Errorf("register user %q: unexpected status %d", username, resp.StatusCode)
	}

	var user domain.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode register response: %w", err)
	}

	span.SetAttributes(attribute.Bool("registration.success", true))
	span.AddEvent("user.registered")

	return &user, nil
}

// Logout ends the current device's session. The scheduler is canceled
// before the server call so no refresh can fire against a session the
// user just ended, and the local session is cleared regardless of the
// server outcome: an error return still leaves the client logged out.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.logout(ctx, "/api/auth/logout", "auth.logout")
}

// LogoutAllDevices revokes every device's rotation credential via
// POST /api/auth/logout-all. Local state follows the same
// "local state wins" policy as Logout.
func (s *AuthService) LogoutAllDevices(ctx context.Context) error {
	return s.logout(ctx, "/api/auth/logout-all", "auth.logout_all")
}

func (s *AuthService) logout(ctx context.Context, path, spanName string) error {
	ctx, span := middleware.StartSpan(ctx, spanName, trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	// Cancel first: a refresh firing after the user chose to log out
	// would resurrect server-side state we are about to revoke.
	s.scheduler.Cancel()
	s.store.Clear()
	span.AddEvent("session.cleared")

	resp, err := s.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Str("path", path).Msg("Server-side logout failed, local session already cleared")
		return fmt.Errorf("logout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Int("http.status", resp.StatusCode))
		log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("Server-side logout rejected, local session already cleared")
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}

	span.AddEvent("user.logged_out")
	return nil
}

// Refresh rotates the credential pair via POST /api/auth/refresh. On
// success the scheduler is re-armed, keeping the cadence alive. On any
// failure the session is cleared and the scheduler canceled: a failed
// refresh means the rotation credential is gone, and retrying blindly
// would just loop.
func (s *AuthService) Refresh(ctx context.Context) error {
	ctx, span := middleware.StartSpan(ctx, "auth.refresh", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	resp, err := s.do(ctx, http.MethodPost, "/api/auth/refresh", nil)
	if err != nil {
		span.RecordError(err)
		s.terminateSession()
		return fmt.Errorf("refresh session: %v: %w", err, ErrRefreshFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Bool("refresh.success", false))
		s.terminateSession()
		return fmt.Errorf("refresh session: status %d: %w", resp.StatusCode, ErrRefreshFailed)
	}

	s.scheduler.Arm()
	span.SetAttributes(attribute.Bool("refresh.success", true))
	span.AddEvent("credential.rotated")
	return nil
}

// WhoAmI probes GET /api/auth/me to derive the session from the
// server-held cookies, typically at startup. A successful probe
// publishes the user and arms the scheduler, mirroring login. An
// unauthorized outcome clears the session and returns (nil, nil):
// absence of a session is a normal result, not a failure.
func (s *AuthService) WhoAmI(ctx context.Context) (*domain.UserInfo, error) {
	ctx, span := middleware.StartSpan(ctx, "auth.who_am_i", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	resp, err := s.do(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("probe session: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// handled below
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		span.SetAttributes(attribute.Bool("session.present", false))
		s.terminateSession()
		return nil, nil
	default:
		return nil, fmt.Errorf("probe session: unexpected status %d", resp.StatusCode)
	}

	var user domain.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode session probe response: %w", err)
	}

	s.store.Set(user)
	s.scheduler.Arm()

	span.SetAttributes(
		attribute.String("user.name", user.Username),
		attribute.Bool("session.present", true),
	)

	return &user, nil
}

// Close cancels any pending refresh timer. The session value is left
// as-is: teardown is not a logout.
func (s *AuthService) Close() {
	s.scheduler.Cancel()
}

// terminateSession is the shared failed-refresh / absent-session path.
func (s *AuthService) terminateSession() {
	s.scheduler.Cancel()
	s.store.Clear()
}

// scheduledRefresh runs when the proactive timer fires.
func (s *AuthService) scheduledRefresh() {
	// The timer may fire in the window between logout's Cancel and the
	// callback actually running; a cleared session means stand down.
	if !s.IsAuthenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Refresh(ctx); err != nil {
		middleware.RecordRefresh(middleware.RefreshTriggerScheduled, false)
		log.Warn().Err(err).Msg("Scheduled refresh failed, session terminated")
		return
	}
	middleware.RecordRefresh(middleware.RefreshTriggerScheduled, true)
	log.Debug().Msg("Scheduled refresh succeeded")
}

// do issues a JSON request through the pipeline client. Bodies are
// marshaled to bytes.Reader so the request stays replayable for the
// 401 retry path.
func (s *AuthService) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return s.http.Do(req)
}

// decodeAPIError reads the backend's structured error body, tolerating
// bodies that are empty or not JSON.
func decodeAPIError(r io.Reader) domain.APIError {
	var apiErr domain.APIError
	_ = json.NewDecoder(r).Decode(&apiErr)
	return apiErr
}

// Package v1 implements the client-side authentication logic for the
// portfolio backend API: login/logout/registration calls, the session
// refresh scheduler, and the startup session probe.
//
// Error Handling:
// This package defines sentinel errors for the failure modes callers
// are expected to branch on. They are wrapped with context using
// fmt.Errorf("%w") when returned.
//
// Example Usage:
//
//	if resp.StatusCode == http.StatusUnauthorized {
//	    return fmt.Errorf("login user %q: %w", username, ErrInvalidCredentials)
//	}
//
// Error Checking (in callers):
//
//	switch {
//	case errors.Is(err, logicv1.ErrInvalidCredentials):
//	    // show "invalid username or password"
//	case errors.Is(err, logicv1.ErrRateLimited):
//	    // show lockout message
//	}
package v1

import "errors"

// Sentinel errors for client-side authentication operations.
// These errors should be wrapped with context using fmt.Errorf("%w").
var (
	// ErrInvalidCredentials indicates the server rejected the supplied
	// username/password. Never retried.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists indicates registration was rejected because the
	// username or email is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrRateLimited indicates the server temporarily locked the
	// account after repeated failed login or registration attempts.
	ErrRateLimited = errors.New("too many attempts")

	// ErrUnauthorized indicates the server rejected the request's
	// credential and the transparent recovery path could not fix it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRefreshFailed indicates the rotation credential is gone and
	// the session cannot be renewed. The session is cleared before
	// this error is returned; the user must log in again.
	ErrRefreshFailed = errors.New("session refresh failed")
)

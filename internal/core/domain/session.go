package domain

// Session is the client's current belief about who is logged in.
// User is nil when unauthenticated; it is never partially populated.
type Session struct {
	User *UserInfo
}

// Authenticated reports whether the session holds a user.
func (s Session) Authenticated() bool {
	return s.User != nil
}

// SessionStream is the read side of the session store. Consumers
// (status endpoints, guards) depend on this interface only; the single
// writer is the auth service.
type SessionStream interface {
	// Current returns the present session value without blocking.
	Current() Session

	// Subscribe registers an observer. The returned channel immediately
	// delivers the current session value, then every subsequent change,
	// always collapsing to the latest value if the observer lags. The
	// cancel func releases the subscription; the channel is closed
	// afterwards.
	Subscribe() (<-chan Session, func())
}

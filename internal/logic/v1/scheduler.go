package v1

import (
	"sync"
	"time"
)

// RefreshScheduler proactively renews the access credential shortly
// before its known expiry. It owns at most one pending one-shot timer:
// arming always cancels the previous timer first, so re-arming is
// idempotent and never stacks.
type RefreshScheduler struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	gen   uint64

	// refresh is invoked when the timer fires. Set once at wiring time.
	refresh func()
}

// NewRefreshScheduler creates a scheduler that fires refresh after
// lifetime minus buffer. The config layer guarantees buffer < lifetime.
func NewRefreshScheduler(lifetime, buffer time.Duration, refresh func()) *RefreshScheduler {
	return &RefreshScheduler{
		delay:   lifetime - buffer,
		refresh: refresh,
	}
}

// Arm schedules the next refresh, replacing any pending timer.
func (s *RefreshScheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.gen == gen {
			s.timer = nil
		}
		s.mu.Unlock()
		s.refresh()
	})
}

// Cancel stops the pending timer, if any. Safe to call when nothing is
// pending. A timer that has already fired may still run its callback;
// the callback guards against acting on a cleared session.
func (s *RefreshScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a timer is currently armed.
func (s *RefreshScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

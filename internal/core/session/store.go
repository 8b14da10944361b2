// Package session holds the single source of truth for "is a user
// logged in, and who". The store is constructed once at wiring time
// and shared by reference; the auth service is its only writer.
package session

import (
	"sync"

	"github.com/duynhne/portfolio-client/internal/core/domain"
)

// Store is a replay-latest, multicast session holder. New subscribers
// immediately observe the current value; every Set/Clear is fanned out
// to all subscribers in registration order. Updates are atomic from an
// observer's point of view: a subscriber only ever sees complete
// Session values.
type Store struct {
	mu      sync.Mutex
	current domain.Session
	subs    []*subscriber
	nextID  int
}

type subscriber struct {
	id int
	ch chan domain.Session
}

// NewStore creates an empty (unauthenticated) store.
func NewStore() *Store {
	return &Store{}
}

// Current returns the present session value without blocking. The
// returned value is an isolated snapshot; mutating it cannot affect
// the store or other observers.
func (s *Store) Current() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.current)
}

// snapshot deep-copies a session so no two readers share a UserInfo.
func snapshot(sess domain.Session) domain.Session {
	if sess.User == nil {
		return domain.Session{}
	}
	u := *sess.User
	return domain.Session{User: &u}
}

// Set publishes an authenticated session. Called only by the auth
// service.
func (s *Store) Set(user domain.UserInfo) {
	u := user
	s.publish(domain.Session{User: &u})
}

// Clear publishes the unauthenticated session. Called only by the auth
// service.
func (s *Store) Clear() {
	s.publish(domain.Session{})
}

// Subscribe implements domain.SessionStream. Each subscriber owns a
// buffer-one channel: delivery never blocks the writer, and a lagging
// subscriber is collapsed onto the latest value rather than queueing
// history.
func (s *Store) Subscribe() (<-chan domain.Session, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{
		id: s.nextID,
		ch: make(chan domain.Session, 1),
	}
	s.nextID++
	sub.ch <- snapshot(s.current)
	s.subs = append(s.subs, sub)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, candidate := range s.subs {
			if candidate.id == sub.id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

func (s *Store) publish(next domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = next
	for _, sub := range s.subs {
		// Drop the undelivered previous value, keep only the latest.
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snapshot(next)
	}
}

var _ domain.SessionStream = (*Store)(nil)

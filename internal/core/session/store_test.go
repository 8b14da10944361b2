package session

import (
	"testing"
	"time"

	"github.com/duynhne/portfolio-client/internal/core/domain"
)

var alice = domain.UserInfo{Username: "alice", Email: "alice@example.com", FullName: "Alice Example"}
var bob = domain.UserInfo{Username: "bob", Email: "bob@example.com", FullName: "Bob Example"}

func recv(t *testing.T, ch <-chan domain.Session) domain.Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session value")
		return domain.Session{}
	}
}

func TestCurrentStartsUnauthenticated(t *testing.T) {
	store := NewStore()
	if store.Current().Authenticated() {
		t.Fatal("new store should be unauthenticated")
	}
}

func TestSubscribeReplaysCurrentValue(t *testing.T) {
	store := NewStore()
	store.Set(alice)

	ch, cancel := store.Subscribe()
	defer cancel()

	got := recv(t, ch)
	if got.User == nil || got.User.Username != "alice" {
		t.Fatalf("expected replayed alice session, got %+v", got)
	}
}

func TestSetNotifiesAllSubscribers(t *testing.T) {
	store := NewStore()

	ch1, cancel1 := store.Subscribe()
	defer cancel1()
	ch2, cancel2 := store.Subscribe()
	defer cancel2()

	// Consume the initial replay values.
	recv(t, ch1)
	recv(t, ch2)

	store.Set(bob)

	for i, ch := range []<-chan domain.Session{ch1, ch2} {
		got := recv(t, ch)
		if got.User == nil || got.User.Username != "bob" {
			t.Fatalf("subscriber %d: expected bob, got %+v", i, got)
		}
	}
}

func TestLaggingSubscriberSeesOnlyLatest(t *testing.T) {
	store := NewStore()

	ch, cancel := store.Subscribe()
	defer cancel()

	// Without reading, push three updates: only the last survives.
	store.Set(alice)
	store.Set(bob)
	store.Clear()

	got := recv(t, ch)
	if got.Authenticated() {
		t.Fatalf("expected latest (cleared) session, got %+v", got)
	}

	select {
	case extra := <-ch:
		t.Fatalf("expected no queued history, got %+v", extra)
	default:
	}
}

func TestClearAfterSet(t *testing.T) {
	store := NewStore()
	store.Set(alice)
	store.Clear()

	if store.Current().Authenticated() {
		t.Fatal("expected unauthenticated after Clear")
	}
}

func TestSessionValueIsComplete(t *testing.T) {
	store := NewStore()
	store.Set(alice)

	got := store.Current()
	if got.User.Username == "" || got.User.Email == "" || got.User.FullName == "" {
		t.Fatalf("session must never be partially populated: %+v", got.User)
	}

	// Mutating the stored copy via the snapshot must not be possible.
	got.User.Username = "mallory"
	if store.Current().User.Username != "alice" {
		t.Fatal("Current must return an isolated snapshot")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	store := NewStore()
	ch, cancel := store.Subscribe()
	recv(t, ch)
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or block.
	store.Set(alice)
}

package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/prilive-com/upguard/upstream"
)

// EventRecorder is an upstream.Observer that keeps every event it sees.
type EventRecorder struct {
	mu     sync.Mutex
	events []upstream.Event
}

// Observe implements upstream.Observer.
func (r *EventRecorder) Observe(e upstream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Emit has the upstream.Emitter signature.
func (r *EventRecorder) Emit(e upstream.Event) { r.Observe(e) }

// Events returns a copy of every recorded event.
func (r *EventRecorder) Events() []upstream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]upstream.Event{}, r.events...)
}

// OfKind returns recorded events of kind k.
func (r *EventRecorder) OfKind(k upstream.Kind) []upstream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []upstream.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind k were recorded.
func (r *EventRecorder) Count(k upstream.Kind) int {
	return len(r.OfKind(k))
}

// Kinds returns the kinds of recorded events in order.
func (r *EventRecorder) Kinds() []upstream.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]upstream.Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// WaitFor blocks until at least n events of kind k arrive or fails the test.
func (r *EventRecorder) WaitFor(t *testing.T, k upstream.Kind, n int, timeout time.Duration) []upstream.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if got := r.OfKind(k); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events (got %d)", n, k, r.Count(k))
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package testutil

import (
	"context"
	"slices"
	"sync"
	"time"
)

// FakeSleeper records backoff waits instead of sleeping. When Clock is set,
// each wait advances it, so rate windows and cache TTLs move with retries.
type FakeSleeper struct {
	Clock   *FakeClock
	OnSleep func(d time.Duration) // Runs after each recorded wait

	mu    sync.Mutex
	waits []time.Duration
}

// Sleep records d. A done context returns its error and records nothing.
func (f *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.waits = append(f.waits, d)
	hook := f.OnSleep
	f.mu.Unlock()

	if f.Clock != nil {
		f.Clock.Advance(d)
	}
	if hook != nil {
		hook(d)
	}
	return nil
}

// Calls returns the recorded waits in order.
func (f *FakeSleeper) Calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.waits)
}

func (f *FakeSleeper) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waits)
}

// Total is the sum of recorded waits.
func (f *FakeSleeper) Total() time.Duration {
	var sum time.Duration
	for _, d := range f.Calls() {
		sum += d
	}
	return sum
}

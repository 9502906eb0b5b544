package resilience

import (
	"context"
	"time"
)

// Sleeper abstracts time-based waiting for testing.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper uses actual time.
type RealSleeper struct{}

// Sleep waits for d or until ctx is done.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy holds retry configuration.
type RetryPolicy struct {
	Retries   int           // Additional attempts after the first
	Delay     time.Duration // Wait before retry n is n×Delay
	Sleeper   Sleeper
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error, wait time.Duration)
}

// LinearBackoff returns attempt×delay.
func LinearBackoff(attempt int, delay time.Duration) time.Duration {
	return time.Duration(attempt) * delay
}

// CappedBackoff returns min(attempt×base, limit).
func CappedBackoff(attempt int, base, limit time.Duration) time.Duration {
	return min(LinearBackoff(attempt, base), limit)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. fn receives the 1-based attempt number. The number of
// attempts made is returned alongside the result.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(attempt int) (T, error)) (T, int, error) {
	var zero T
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper{}
	}

	for attempt := 1; ; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, attempt, nil
		}

		if attempt > p.Retries || p.Retryable == nil || !p.Retryable(err) {
			return zero, attempt, err
		}
		if ctx.Err() != nil {
			return zero, attempt, err
		}

		wait := LinearBackoff(attempt, p.Delay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if serr := sleeper.Sleep(ctx, wait); serr != nil {
			return zero, attempt, err
		}
	}
}

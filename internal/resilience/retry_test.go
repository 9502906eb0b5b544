package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/internal/resilience"
	"github.com/prilive-com/upguard/internal/testutil"
)

var errRetryable = errors.New("retryable")

func retryable(err error) bool { return errors.Is(err, errRetryable) }

func TestRetry_SucceedsFirstTry(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	v, attempts, err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		Retries: 3, Delay: time.Second, Sleeper: sleeper, Retryable: retryable,
	}, func(int) (string, error) { return "ok", nil })

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, sleeper.CallCount())
}

func TestRetry_LinearBackoff(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	var retried []int

	_, attempts, err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		Retries:   3,
		Delay:     time.Second,
		Sleeper:   sleeper,
		Retryable: retryable,
		OnRetry:   func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}, func(int) (int, error) { return 0, errRetryable })

	assert.ErrorIs(t, err, errRetryable)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, sleeper.Calls())
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestRetry_RecoversMidway(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	v, attempts, err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		Retries: 5, Delay: 10 * time.Millisecond, Sleeper: sleeper, Retryable: retryable,
	}, func(attempt int) (int, error) {
		if attempt < 3 {
			return 0, errRetryable
		}
		return attempt, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, sleeper.CallCount())
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	sleeper := &testutil.FakeSleeper{}
	errFatal := errors.New("fatal")

	_, attempts, err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		Retries: 3, Delay: time.Second, Sleeper: sleeper, Retryable: retryable,
	}, func(int) (int, error) { return 0, errFatal })

	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, sleeper.CallCount())
}

func TestRetry_ZeroRetries(t *testing.T) {
	_, attempts, err := resilience.Retry(context.Background(), resilience.RetryPolicy{
		Retryable: retryable,
	}, func(int) (int, error) { return 0, errRetryable })

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sleeper := &testutil.FakeSleeper{}

	_, attempts, err := resilience.Retry(ctx, resilience.RetryPolicy{
		Retries: 3, Delay: time.Second, Sleeper: sleeper, Retryable: retryable,
	}, func(int) (int, error) { return 0, errRetryable })

	assert.ErrorIs(t, err, errRetryable)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, sleeper.CallCount())
}

func TestCappedBackoff_MonotonicUpToCap(t *testing.T) {
	base, limit := time.Second, 3*time.Second
	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := resilience.CappedBackoff(attempt, base, limit)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, limit)
		prev = d
	}
	assert.Equal(t, 2*time.Second, resilience.CappedBackoff(2, base, limit))
	assert.Equal(t, limit, resilience.CappedBackoff(9, base, limit))
}

func TestRealSleeper_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RealSleeper{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

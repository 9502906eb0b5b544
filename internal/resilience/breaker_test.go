package resilience_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/internal/resilience"
	"github.com/prilive-com/upguard/upstream"
)

var errBoom = errors.New("boom")

type transitions struct {
	mu   sync.Mutex
	list []string
}

func (tr *transitions) record(from, to upstream.CircuitState) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.list = append(tr.list, string(from)+"->"+string(to))
}

func (tr *transitions) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string{}, tr.list...)
}

func newTestBreaker(tr *transitions, volume uint32) *resilience.Breaker[int] {
	return resilience.NewBreaker[int](resilience.BreakerConfig{
		Name:              "test",
		ErrorThresholdPct: 50,
		VolumeThreshold:   volume,
		ResetTimeout:      50 * time.Millisecond,
		RollingWindow:     time.Minute,
		OnTransition:      tr.record,
	})
}

func fail() (int, error)    { return 0, errBoom }
func succeed() (int, error) { return 1, nil }

// ==================== Tripping ====================

func TestBreaker_StaysClosedBelowVolume(t *testing.T) {
	tr := &transitions{}
	b := newTestBreaker(tr, 3)

	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)

	assert.Equal(t, upstream.CircuitClosed, b.State())
	assert.Empty(t, tr.get())
}

func TestBreaker_TripsExactlyOnce(t *testing.T) {
	tr := &transitions{}
	b := newTestBreaker(tr, 2)

	for range 10 {
		_, _ = b.Execute(fail)
	}

	assert.Equal(t, upstream.CircuitOpen, b.State())
	assert.Equal(t, []string{"closed->open"}, tr.get())
}

func TestBreaker_RespectsErrorPercentage(t *testing.T) {
	tr := &transitions{}
	b := newTestBreaker(tr, 4)

	_, _ = b.Execute(succeed)
	_, _ = b.Execute(succeed)
	_, _ = b.Execute(succeed)
	_, _ = b.Execute(fail) // 25%

	assert.Equal(t, upstream.CircuitClosed, b.State())

	_, _ = b.Execute(fail) // 40%
	assert.Equal(t, upstream.CircuitClosed, b.State())

	_, _ = b.Execute(fail) // 50%
	assert.Equal(t, upstream.CircuitOpen, b.State())
}

func TestBreaker_OpenFailsFastWithoutCalling(t *testing.T) {
	b := newTestBreaker(&transitions{}, 2)
	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)

	var calls atomic.Int32
	for range 25 {
		_, err := b.Execute(func() (int, error) {
			calls.Add(1)
			return 1, nil
		})
		assert.True(t, resilience.IsRejection(err))
	}

	assert.Zero(t, calls.Load())
}

// ==================== Half-open ====================

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	tr := &transitions{}
	b := newTestBreaker(tr, 2)
	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, upstream.CircuitHalfOpen, b.State())

	v, err := b.Execute(succeed)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, upstream.CircuitClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, tr.get())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	tr := &transitions{}
	b := newTestBreaker(tr, 2)
	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)

	time.Sleep(80 * time.Millisecond)
	_, err := b.Execute(fail)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, upstream.CircuitOpen, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->open"}, tr.get())
}

func TestBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	b := newTestBreaker(&transitions{}, 2)
	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)
	time.Sleep(80 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	var calls atomic.Int32
	_, err := b.Execute(func() (int, error) {
		calls.Add(1)
		return 1, nil
	})
	assert.True(t, resilience.IsRejection(err))
	assert.Zero(t, calls.Load())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, upstream.CircuitClosed, b.State())
}

// ==================== Classification ====================

func TestBreaker_IsSuccessfulExcludesErrors(t *testing.T) {
	errClient := errors.New("client error")
	b := resilience.NewBreaker[int](resilience.BreakerConfig{
		Name:              "test",
		ErrorThresholdPct: 50,
		VolumeThreshold:   2,
		ResetTimeout:      time.Minute,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errClient)
		},
	})

	for range 5 {
		_, err := b.Execute(func() (int, error) { return 0, errClient })
		assert.ErrorIs(t, err, errClient)
	}

	assert.Equal(t, upstream.CircuitClosed, b.State())
}

func TestBreaker_TransitionCallbackMayQueryState(t *testing.T) {
	var b *resilience.Breaker[int]
	var seen []upstream.CircuitState
	b = resilience.NewBreaker[int](resilience.BreakerConfig{
		Name:              "test",
		ErrorThresholdPct: 50,
		VolumeThreshold:   1,
		ResetTimeout:      time.Minute,
		OnTransition: func(_, _ upstream.CircuitState) {
			seen = append(seen, b.State())
		},
	})

	_, _ = b.Execute(fail)

	assert.Equal(t, []upstream.CircuitState{upstream.CircuitOpen}, seen)
}

func TestFromUpstream(t *testing.T) {
	cfg := resilience.FromUpstream("x", upstream.BreakerConfig{
		ErrorThresholdPct: 25,
		ResetTimeout:      time.Second,
		VolumeThreshold:   7,
		RollingWindow:     time.Minute,
	})

	assert.Equal(t, "x", cfg.Name)
	assert.Equal(t, float64(25), cfg.ErrorThresholdPct)
	assert.Equal(t, uint32(7), cfg.VolumeThreshold)
	assert.Equal(t, time.Second, cfg.ResetTimeout)
	assert.Equal(t, time.Minute, cfg.RollingWindow)
}

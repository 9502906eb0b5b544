package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/prilive-com/upguard/upstream"
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	Name              string
	ErrorThresholdPct float64       // Failure percentage that trips the breaker
	VolumeThreshold   uint32        // Minimum requests in the window before tripping
	ResetTimeout      time.Duration // Time spent open before the half-open trial
	RollingWindow     time.Duration // Counting interval in the closed state

	// IsSuccessful classifies an error. nil treats every error as a failure.
	IsSuccessful func(err error) bool

	// OnTransition is called for every state change, in order, outside the
	// breaker's lock.
	OnTransition func(from, to upstream.CircuitState)
}

// FromUpstream builds a BreakerConfig from an upstream's settings.
func FromUpstream(name string, b upstream.BreakerConfig) BreakerConfig {
	return BreakerConfig{
		Name:              name,
		ErrorThresholdPct: b.ErrorThresholdPct,
		VolumeThreshold:   b.VolumeThreshold,
		ResetTimeout:      b.ResetTimeout,
		RollingWindow:     b.RollingWindow,
	}
}

type transition struct {
	from, to upstream.CircuitState
}

// Breaker wraps gobreaker with a single half-open trial and ordered,
// lock-free transition delivery.
type Breaker[T any] struct {
	cb           *gobreaker.CircuitBreaker[T]
	onTransition func(from, to upstream.CircuitState)

	pendingMu sync.Mutex
	pending   []transition
	deliverMu sync.Mutex
}

// NewBreaker creates a new circuit breaker with the given configuration.
func NewBreaker[T any](cfg BreakerConfig) *Breaker[T] {
	b := &Breaker[T]{onTransition: cfg.OnTransition}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.RollingWindow,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < cfg.VolumeThreshold {
				return false
			}
			pct := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return pct >= cfg.ErrorThresholdPct
		},
		IsSuccessful: cfg.IsSuccessful,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.pendingMu.Lock()
			b.pending = append(b.pending, transition{from: mapState(from), to: mapState(to)})
			b.pendingMu.Unlock()
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[T](settings)
	return b
}

// Execute runs fn if the breaker admits it. A rejected call returns an
// error matched by IsRejection and fn is not invoked.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(fn)
	b.flush()
	return res, err
}

// State returns the current state, applying any due open→half-open move.
func (b *Breaker[T]) State() upstream.CircuitState {
	s := mapState(b.cb.State())
	b.flush()
	return s
}

// Counts returns the counters of the current window.
func (b *Breaker[T]) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// IsRejection reports whether err came from an open or saturated half-open breaker.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Breaker[T]) flush() {
	for {
		// A nested flush from inside OnTransition must not block; the
		// outer loop picks up whatever it queued.
		if !b.deliverMu.TryLock() {
			return
		}
		for {
			b.pendingMu.Lock()
			batch := b.pending
			b.pending = nil
			b.pendingMu.Unlock()
			if len(batch) == 0 {
				break
			}
			if b.onTransition != nil {
				for _, t := range batch {
					b.onTransition(t.from, t.to)
				}
			}
		}
		b.deliverMu.Unlock()

		b.pendingMu.Lock()
		more := len(b.pending) > 0
		b.pendingMu.Unlock()
		if !more {
			return
		}
	}
}

func mapState(s gobreaker.State) upstream.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return upstream.CircuitOpen
	case gobreaker.StateHalfOpen:
		return upstream.CircuitHalfOpen
	default:
		return upstream.CircuitClosed
	}
}

package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/upstream"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	Count   int64     // Requests counted in the current window, this one included
	Limit   int       // Window quota
	ResetAt time.Time // When the current window ends
	Global  bool      // Rejected by the global bucket rather than the window
}

// Limiter applies a per-upstream fixed window and an optional global
// token bucket shared by every upstream.
type Limiter struct {
	store  store.Store
	global *rate.Limiter
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithGlobalLimit caps the combined request rate of all upstreams.
// rps <= 0 disables the global cap.
func WithGlobalLimit(rps float64, burst int) LimiterOption {
	return func(l *Limiter) {
		if rps <= 0 {
			l.global = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		l.global = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewLimiter creates a limiter counting in s.
func NewLimiter(s store.Store, opts ...LimiterOption) *Limiter {
	l := &Limiter{store: s}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request against api's window. The counter is consumed
// even when the request is rejected, matching an INCR-based window.
// On a store error the returned Decision allows the request; callers decide
// whether to honor it.
func (l *Limiter) Allow(ctx context.Context, api string, cfg upstream.RateLimitConfig) (Decision, error) {
	count, resetAt, err := l.store.Incr(ctx, store.RateKey(api), cfg.Window)
	if err != nil {
		return Decision{Allowed: true, Limit: cfg.Max}, err
	}
	d := Decision{Count: count, Limit: cfg.Max, ResetAt: resetAt}
	if count > int64(cfg.Max) {
		return d, nil
	}
	if l.global != nil && !l.global.Allow() {
		d.Global = true
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

// Package resilience provides the per-upstream guards: a circuit breaker built
// on sony/gobreaker, a fixed-window limiter backed by a store.Store with an
// optional global token bucket from golang.org/x/time/rate, and linear retry.
package resilience

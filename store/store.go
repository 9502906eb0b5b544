// Package store keeps the state that may be shared between orchestrator
// instances: fixed-window request counters and cached health flags.
//
// Memory is the default and is process-local. Redis shares counters and
// health across processes.
package store

import (
	"context"
	"time"

	"github.com/prilive-com/upguard/upstream"
)

// Store is the counter and cached-health backend.
type Store interface {
	// Incr adds one to key's counter. The window starts at the first
	// increment and the counter resets when it elapses. Returns the count
	// after incrementing and when the current window ends.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// SetHealth caches status for api, expiring after ttl.
	SetHealth(ctx context.Context, api string, status upstream.HealthStatus, ttl time.Duration) error

	// Health returns the cached status. ok is false when nothing is cached
	// or the entry expired.
	Health(ctx context.Context, api string) (status upstream.HealthStatus, ok bool, err error)

	Close() error
}

const keyPrefix = "upguard:"

// RateKey is the counter key for an upstream.
func RateKey(api string) string { return keyPrefix + "rate:" + api }

// HealthKey is the cached-health key for an upstream.
func HealthKey(api string) string { return keyPrefix + "health:" + api }

package store

import (
	"context"
	"sync"
	"time"

	"github.com/prilive-com/upguard/upstream"
)

// sweepEvery bounds how many Incr calls pass between expired-entry sweeps.
const sweepEvery = 1024

type counter struct {
	count   int64
	expires time.Time
}

type healthEntry struct {
	status  upstream.HealthStatus
	expires time.Time
}

// Memory is a process-local Store.
type Memory struct {
	clock    upstream.Clock
	mu       sync.Mutex
	counters map[string]*counter
	health   map[string]healthEntry
	ops      int
}

// NewMemory creates a Memory store. A nil clock uses the wall clock.
func NewMemory(clock upstream.Clock) *Memory {
	if clock == nil {
		clock = upstream.SystemClock{}
	}
	return &Memory{
		clock:    clock,
		counters: make(map[string]*counter),
		health:   make(map[string]healthEntry),
	}
}

// Incr implements Store.
func (m *Memory) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops++
	if m.ops%sweepEvery == 0 {
		m.sweep(now)
	}

	c, ok := m.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	return c.count, c.expires, nil
}

// SetHealth implements Store.
func (m *Memory) SetHealth(_ context.Context, api string, status upstream.HealthStatus, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[api] = healthEntry{status: status, expires: m.clock.Now().Add(ttl)}
	return nil
}

// Health implements Store.
func (m *Memory) Health(_ context.Context, api string) (upstream.HealthStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.health[api]
	if !ok {
		return upstream.HealthUnknown, false, nil
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.health, api)
		return upstream.HealthUnknown, false, nil
	}
	return e.status, true, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (m *Memory) sweep(now time.Time) {
	for k, c := range m.counters {
		if !now.Before(c.expires) {
			delete(m.counters, k)
		}
	}
	for k, e := range m.health {
		if !now.Before(e.expires) {
			delete(m.health, k)
		}
	}
}

var _ Store = (*Memory)(nil)

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prilive-com/upguard/upstream"
)

// incrScript increments a counter and starts its window on the first hit.
// A key left without expiry gets one so it cannot pin the window forever.
var incrScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if c == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// Redis is a Store shared between processes.
type Redis struct {
	client redis.UniversalClient
	clock  upstream.Clock
	owned  bool
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisClock sets the clock used to compute window reset times.
func WithRedisClock(c upstream.Clock) RedisOption {
	return func(r *Redis) {
		r.clock = c
	}
}

// NewRedis wraps an existing client. Close does not close it.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, clock: upstream.SystemClock{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, rawURL string, opts ...RedisOption) (*Redis, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	r := NewRedis(client, opts...)
	r.owned = true
	return r, nil
}

// Incr implements Store.
func (r *Redis) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := incrScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incr %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("incr %s: unexpected reply %v", key, res)
	}
	return res[0], r.clock.Now().Add(time.Duration(res[1]) * time.Millisecond), nil
}

// SetHealth implements Store.
func (r *Redis) SetHealth(ctx context.Context, api string, status upstream.HealthStatus, ttl time.Duration) error {
	if err := r.client.Set(ctx, HealthKey(api), string(status), ttl).Err(); err != nil {
		return fmt.Errorf("set health %s: %w", api, err)
	}
	return nil
}

// Health implements Store.
func (r *Redis) Health(ctx context.Context, api string) (upstream.HealthStatus, bool, error) {
	v, err := r.client.Get(ctx, HealthKey(api)).Result()
	if errors.Is(err, redis.Nil) {
		return upstream.HealthUnknown, false, nil
	}
	if err != nil {
		return upstream.HealthUnknown, false, fmt.Errorf("get health %s: %w", api, err)
	}
	return upstream.HealthStatus(v), true, nil
}

// Close releases the client if the store created it.
func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

var _ Store = (*Redis)(nil)

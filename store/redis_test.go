package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/store"
	"github.com/prilive-com/upguard/upstream"
)

func newRedisStore(t *testing.T, mr *miniredis.Miniredis) *store.Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedis(client)
}

func TestRedis_IncrStartsWindowOnFirstHit(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr)
	ctx := context.Background()

	n, _, err := s.Incr(ctx, "upguard:rate:a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Second, mr.TTL("upguard:rate:a"))

	n, _, err = s.Incr(ctx, "upguard:rate:a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedis_IncrResetsAfterWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr)
	ctx := context.Background()

	_, _, _ = s.Incr(ctx, "k", time.Second)
	_, _, _ = s.Incr(ctx, "k", time.Second)
	mr.FastForward(time.Second)

	n, _, err := s.Incr(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedis_RestoresMissingExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr)
	require.NoError(t, mr.Set("k", "5"))

	n, _, err := s.Incr(context.Background(), "k", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, 2*time.Second, mr.TTL("k"))
}

func TestRedis_CountersAreShared(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisStore(t, mr)
	b := newRedisStore(t, mr)
	ctx := context.Background()

	_, _, _ = a.Incr(ctx, "k", time.Minute)
	_, _, _ = b.Incr(ctx, "k", time.Minute)
	n, _, err := a.Incr(ctx, "k", time.Minute)

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRedis_Health(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr)
	ctx := context.Background()

	_, ok, err := s.Health(ctx, "api")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetHealth(ctx, "api", upstream.HealthCritical, 30*time.Second))
	status, ok, err := s.Health(ctx, "api")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, upstream.HealthCritical, status)

	mr.FastForward(30 * time.Second)
	_, ok, err = s.Health(ctx, "api")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_ErrorsSurface(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(t, mr)
	mr.SetError("boom")

	_, _, err := s.Incr(context.Background(), "k", time.Second)
	assert.Error(t, err)

	_, _, err = s.Health(context.Background(), "api")
	assert.Error(t, err)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := store.DialRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = store.DialRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

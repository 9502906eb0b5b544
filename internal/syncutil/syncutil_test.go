package syncutil_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/upguard/internal/syncutil"
)

func TestGo_TracksWaitGroup(t *testing.T) {
	var wg sync.WaitGroup
	var counter atomic.Int32

	for range 10 {
		syncutil.Go(&wg, nil, func() {
			counter.Add(1)
			time.Sleep(5 * time.Millisecond)
		})
	}

	wg.Wait()
	assert.Equal(t, int32(10), counter.Load())
}

func TestGo_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	var got error
	var mu sync.Mutex

	syncutil.Go(&wg, func(err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	}, func() {
		panic("boom")
	})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	var perr *syncutil.PanicError
	require.True(t, errors.As(got, &perr))
	assert.Equal(t, "boom", perr.Value)
	assert.NotEmpty(t, perr.Stack)
	assert.Equal(t, "panic: boom", got.Error())
}

func TestSafe(t *testing.T) {
	var reported error
	ok := syncutil.Safe(func(err error) { reported = err }, func() { panic(errors.New("bad")) })
	assert.False(t, ok)
	assert.Error(t, reported)

	reported = nil
	ok = syncutil.Safe(func(err error) { reported = err }, func() {})
	assert.True(t, ok)
	assert.NoError(t, reported)
}

func TestSafe_NilHandler(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.False(t, syncutil.Safe(nil, func() { panic("x") }))
	})
}

func TestWait(t *testing.T) {
	var wg sync.WaitGroup
	release := make(chan struct{})
	wg.Go(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, syncutil.Wait(ctx, &wg), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, syncutil.Wait(context.Background(), &wg))
}

// Package syncutil holds the goroutine helpers shared by the monitor, the
// stream managers and the orchestrator.
package syncutil

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError carries a recovered panic value and the stack at the point of
// recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover converts a panic into a *PanicError passed to onPanic.
// It must be called directly by a deferred statement.
func Recover(onPanic func(err error)) {
	if r := recover(); r != nil {
		if onPanic != nil {
			onPanic(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}
}

// Go runs fn in a goroutine tracked by wg. A panic in fn is recovered and
// handed to onPanic instead of crashing the process.
func Go(wg *sync.WaitGroup, onPanic func(err error), fn func()) {
	wg.Go(func() {
		defer Recover(onPanic)
		fn()
	})
}

// Safe calls fn and reports a panic to onPanic. It returns false if fn
// panicked.
func Safe(onPanic func(err error), fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if onPanic != nil {
				onPanic(&PanicError{Value: r, Stack: debug.Stack()})
			}
		}
	}()
	fn()
	return true
}

// Wait blocks until wg is done or ctx ends.
func Wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package ring provides a bounded FIFO that evicts its oldest entry when full.
package ring

import "sync"

// Buffer keeps at most Cap entries. Safe for concurrent use.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	start int
	size  int
}

// New creates a Buffer holding at most capacity entries.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, dropping the oldest entry when full.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.start + b.size) % len(b.items)
	b.items[idx] = v
	if b.size < len(b.items) {
		b.size++
		return
	}
	b.start = (b.start + 1) % len(b.items)
}

// Snapshot returns the entries oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, b.size)
	for i := range b.size {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Len returns the number of stored entries.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the maximum number of entries.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Reset removes every entry.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.start, b.size = 0, 0
}

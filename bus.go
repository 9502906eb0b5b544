package upguard

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/prilive-com/upguard/internal/syncutil"
	"github.com/prilive-com/upguard/upstream"
)

// bus fans events out to observers synchronously, in publish order.
type bus struct {
	logger *slog.Logger
	clock  upstream.Clock

	mu        sync.RWMutex
	next      uint64
	observers []subscription
}

type subscription struct {
	id  uint64
	obs upstream.Observer
}

func newBus(logger *slog.Logger, clock upstream.Clock) *bus {
	return &bus{logger: logger, clock: clock}
}

func (b *bus) subscribe(o upstream.Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.observers = append(b.observers, subscription{id: id, obs: o})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.observers {
		if s.id == id {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

// publish delivers e to every observer. A panicking observer is reported as
// a global:error event; panics while delivering global:error are only logged.
func (b *bus) publish(e upstream.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}

	b.mu.RLock()
	subs := b.observers
	b.mu.RUnlock()

	for _, s := range subs {
		syncutil.Safe(func(err error) {
			b.logger.Error("event observer panicked",
				"kind", string(e.Kind),
				"upstream", e.API,
				"error", err,
			)
			if e.Kind != upstream.KindGlobalError {
				b.publish(upstream.Event{Kind: upstream.KindGlobalError, API: e.API, Err: err})
			}
		}, func() {
			s.obs.Observe(e)
		})
	}
}

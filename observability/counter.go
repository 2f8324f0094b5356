package observability

import (
	"context"
	"sync"
	"sync/atomic"
)

// Counter tallies events by type. It is safe for concurrent use and is
// typically combined with a SlogObserver through NewMultiObserver to produce
// an end-of-run summary.
type Counter struct {
	counts sync.Map // EventType -> *atomic.Int64
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) OnEvent(ctx context.Context, event Event) {
	v, _ := c.counts.LoadOrStore(event.Type, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Count returns how many events of type t have been observed.
func (c *Counter) Count(t EventType) int64 {
	v, ok := c.counts.Load(t)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Snapshot copies the current tallies.
func (c *Counter) Snapshot() map[EventType]int64 {
	snap := make(map[EventType]int64)
	c.counts.Range(func(key, value any) bool {
		snap[key.(EventType)] = value.(*atomic.Int64).Load()
		return true
	})
	return snap
}

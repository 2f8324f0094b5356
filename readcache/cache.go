// Package readcache holds the newest undecided chunk for each channel with a
// bounded capacity. Writers (the instrument transport) and the reader (the
// decision loop) may run concurrently.
//
// A newer chunk for a channel overwrites the older one rather than queueing
// behind it, so the reader always sees the freshest signal and never a stale
// duplicate.
package readcache

import (
	"container/list"
	"sync"

	"github.com/tailored-agentic-units/readfish/core/read"
)

// Mode selects how a chunk for an already cached read is stored.
type Mode int

const (
	// ModeLatest replaces the cached chunk with the new one.
	ModeLatest Mode = iota
	// ModeAccumulating appends the new signal to the cached chunk when both
	// belong to the same read; a different read replaces it.
	ModeAccumulating
)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Size        int    // Channels currently cached.
	Replaced    uint64 // Chunks overwritten before being popped.
	Accumulated uint64 // Chunks merged into a cached read.
	Evicted     uint64 // Channels dropped because capacity was exceeded.
}

type slot struct {
	chunk read.Chunk
}

// Cache is safe for concurrent use.
type Cache struct {
	capacity int
	mode     Mode

	order *list.List // *slot, front = least recently updated
	index map[int]*list.Element

	stats Stats
	mu    sync.Mutex
}

// New returns a cache holding at most capacity channels. A non-positive
// capacity is treated as 1.
func New(capacity int, mode Mode) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		mode:     mode,
		order:    list.New(),
		index:    make(map[int]*list.Element),
	}
}

// Put stores c as the newest chunk for its channel. The channel becomes the
// most recently updated; if capacity is exceeded the least recently updated
// channel is evicted.
func (c *Cache) Put(chunk read.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[chunk.Channel]; ok {
		s := el.Value.(*slot)
		if c.mode == ModeAccumulating && s.chunk.ID == chunk.ID && s.chunk.Number == chunk.Number {
			merged := make([]byte, 0, len(s.chunk.RawData)+len(chunk.RawData))
			merged = append(merged, s.chunk.RawData...)
			merged = append(merged, chunk.RawData...)
			acc := s.chunk
			acc.RawData = merged
			s.chunk = acc
			c.stats.Accumulated++
		} else {
			s.chunk = chunk
			c.stats.Replaced++
		}
		c.order.MoveToBack(el)
		return
	}

	c.index[chunk.Channel] = c.order.PushBack(&slot{chunk: chunk})
	if c.order.Len() > c.capacity {
		oldest := c.order.Front()
		delete(c.index, oldest.Value.(*slot).chunk.Channel)
		c.order.Remove(oldest)
		c.stats.Evicted++
	}
}

// PopItems removes and returns up to n chunks, one per channel. With last
// set the most recently updated channels come first; otherwise the least
// recently updated.
func (c *Cache) PopItems(n int, last bool) read.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.order.Len() {
		n = c.order.Len()
	}
	if n <= 0 {
		return read.Batch{}
	}

	batch := make(read.Batch, 0, n)
	for len(batch) < n {
		el := c.order.Front()
		if last {
			el = c.order.Back()
		}
		s := el.Value.(*slot)
		c.order.Remove(el)
		delete(c.index, s.chunk.Channel)
		batch = append(batch, s.chunk)
	}
	return batch
}

// Discard drops the cached chunk for channel if it belongs to read number.
func (c *Cache) Discard(channel int, number uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[channel]
	if !ok || el.Value.(*slot).chunk.Number != number {
		return false
	}
	c.order.Remove(el)
	delete(c.index, channel)
	return true
}

// Len returns the number of cached channels.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	return s
}

package readcache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/readfish/core/read"
	"github.com/tailored-agentic-units/readfish/readcache"
)

func chunk(channel int, number uint32, raw ...byte) read.Chunk {
	return read.Chunk{
		Channel: channel,
		Number:  number,
		ID:      read.ReadID(fmt.Sprintf("ch%d-r%d", channel, number)),
		RawData: raw,
	}
}

func TestPopItems_LastChunkWinsOnOneChannel(t *testing.T) {
	cache := readcache.New(512, readcache.ModeLatest)
	for i := 1; i <= 1000; i++ {
		cache.Put(chunk(1, uint32(i)))
	}

	batch := cache.PopItems(512, true)
	require.Len(t, batch, 1)
	assert.Equal(t, uint32(1000), batch[0].Number)
	assert.Equal(t, read.ReadID("ch1-r1000"), batch[0].ID)
	assert.Equal(t, uint64(999), cache.Stats().Replaced)
	assert.Empty(t, cache.PopItems(512, true), "popped chunks must not be returned again")
}

func TestPopItems_BoundedByBatchSize(t *testing.T) {
	cache := readcache.New(2000, readcache.ModeLatest)
	for ch := 1; ch <= 1000; ch++ {
		cache.Put(chunk(ch, 1))
	}

	batch := cache.PopItems(512, true)
	require.Len(t, batch, 512)

	seen := make(map[int]bool)
	for _, c := range batch {
		assert.False(t, seen[c.Channel], "channel %d returned twice", c.Channel)
		seen[c.Channel] = true
	}
	// Most recently updated channels come first.
	assert.Equal(t, 1000, batch[0].Channel)
	assert.Equal(t, 489, batch[511].Channel)
	assert.Equal(t, 488, cache.Len())
}

func TestPopItems_Oldest(t *testing.T) {
	cache := readcache.New(10, readcache.ModeLatest)
	cache.Put(chunk(1, 1))
	cache.Put(chunk(2, 1))
	cache.Put(chunk(1, 2)) // channel 1 becomes most recent

	batch := cache.PopItems(1, false)
	require.Len(t, batch, 1)
	assert.Equal(t, 2, batch[0].Channel)
}

func TestPut_EvictsLeastRecentlyUpdated(t *testing.T) {
	cache := readcache.New(2, readcache.ModeLatest)
	cache.Put(chunk(1, 1))
	cache.Put(chunk(2, 1))
	cache.Put(chunk(1, 2))
	cache.Put(chunk(3, 1))

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, uint64(1), stats.Evicted)

	channels := []int{}
	for _, c := range cache.PopItems(10, true) {
		channels = append(channels, c.Channel)
	}
	assert.Equal(t, []int{3, 1}, channels)
}

func TestPut_Accumulating(t *testing.T) {
	cache := readcache.New(4, readcache.ModeAccumulating)
	first := chunk(5, 7, 1, 2)
	cache.Put(first)
	cache.Put(chunk(5, 7, 3, 4))

	batch := cache.PopItems(1, true)
	require.Len(t, batch, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, batch[0].RawData)
	assert.Equal(t, []byte{1, 2}, first.RawData, "original chunk must not be mutated")
	assert.Equal(t, uint64(1), cache.Stats().Accumulated)

	cache.Put(chunk(5, 7, 9))
	cache.Put(chunk(5, 8, 6))
	batch = cache.PopItems(1, true)
	require.Len(t, batch, 1)
	assert.Equal(t, uint32(8), batch[0].Number)
	assert.Equal(t, []byte{6}, batch[0].RawData, "a new read replaces the accumulated one")
}

func TestDiscard(t *testing.T) {
	cache := readcache.New(4, readcache.ModeLatest)
	cache.Put(chunk(1, 3))

	assert.False(t, cache.Discard(1, 2))
	assert.True(t, cache.Discard(1, 3))
	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.PopItems(4, true))
}

func TestConcurrentWritersAndReader(t *testing.T) {
	cache := readcache.New(64, readcache.ModeLatest)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				cache.Put(chunk(w*16+i%16+1, uint32(i)))
			}
		}(w)
	}

	popped := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			popped += len(cache.PopItems(8, true))
		}
	}()

	wg.Wait()
	<-done
	assert.LessOrEqual(t, cache.Len(), 64)
	assert.GreaterOrEqual(t, popped, 0)
}

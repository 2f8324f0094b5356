package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/readfish/core/read"
	"github.com/tailored-agentic-units/readfish/instrument"
	"github.com/tailored-agentic-units/readfish/readcache"
)

// Current levels (pA) of the four synthetic bases and the dwell, in
// samples, of each base.
var baseLevels = [4]float64{72, 91, 108, 127}

const (
	dwellSamples = 10
	signalNoise  = 2.5
)

// Stats counts device activity since creation.
type Stats struct {
	Rounds        int
	Produced      int
	Muted         int // chunks withheld after stop receiving
	Completed     int // reads that ran to their natural end
	Unblocks      int
	StopReceiving int
	Messages      int
	Resets        int
	Cache         readcache.Stats
}

// Message is an operator notification received by the device.
type Message struct {
	Text     string
	Severity read.Severity
}

type channelState struct {
	number uint32
	id     read.ReadID
	chunks int    // chunks produced for the current read
	sample uint64 // samples produced on the channel
	start  uint64 // sample at which the current read started
	muted  bool   // stop receiving requested for the current read
}

// Device implements instrument.Device with synthetic signal. Chunks are
// deposited into a readcache.Cache by Run (or Step) and popped by
// ReadChunks.
type Device struct {
	scenario Scenario
	cache    *readcache.Cache
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	channels  map[int]*channelState
	first     int
	last      int
	streaming bool
	released  bool
	startedAt time.Time
	stats     Stats
	messages  []Message
}

var _ instrument.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger that receives operator messages and command
// traces.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.logger = l }
}

// WithNow overrides the time source used for run_for.
func WithNow(now func() time.Time) Option {
	return func(d *Device) { d.now = now }
}

// New creates a device for sc.
func New(sc Scenario, opts ...Option) (*Device, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		scenario: sc,
		cache:    readcache.New(sc.CacheSize, readcache.ModeLatest),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(sc.Seed, sc.Seed^0x9e3779b97f4a7c15)),
		channels: make(map[int]*channelState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Scenario returns the scenario the device was created with.
func (d *Device) Scenario() Scenario {
	return d.scenario
}

// Running reports whether the position is still sequencing.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningLocked()
}

func (d *Device) runningLocked() bool {
	if d.released {
		return false
	}
	if d.streaming && d.scenario.RunFor > 0 && d.now().Sub(d.startedAt) >= d.scenario.RunFor {
		return false
	}
	return true
}

// StartStream begins producing chunks for channels first..last.
func (d *Device) StartStream(_ context.Context, first, last int) (read.Encoding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return "", instrument.ErrNotRunning
	}
	if first < 1 || last < first || last > d.scenario.Channels {
		return "", fmt.Errorf("%w: %d-%d on a %d channel flow cell", instrument.ErrChannelRange, first, last, d.scenario.Channels)
	}

	d.first, d.last = first, last
	for ch := first; ch <= last; ch++ {
		if _, ok := d.channels[ch]; !ok {
			state := &channelState{}
			d.nextRead(ch, state)
			d.channels[ch] = state
		}
	}
	if !d.streaming {
		d.streaming = true
		d.startedAt = d.now()
	}

	d.logger.Info("simulator stream started",
		"first_channel", first,
		"last_channel", last,
		"encoding", string(d.scenario.Encoding))
	return d.scenario.Encoding, nil
}

// Run produces a round of chunks every ChunkInterval until ctx ends or the
// device stops running.
func (d *Device) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.scenario.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !d.Running() {
				return nil
			}
			d.Step()
		}
	}
}

// Step produces one chunk on every streaming channel and returns how many
// reached the cache.
func (d *Device) Step() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.streaming || !d.runningLocked() {
		return 0
	}
	d.stats.Rounds++

	produced := 0
	for ch := d.first; ch <= d.last; ch++ {
		state := d.channels[ch]
		if state.chunks >= d.scenario.ChunksPerRead {
			d.stats.Completed++
			d.nextRead(ch, state)
		}

		samples := d.signal(d.scenario.SamplesPerChunk)
		chunkStart := state.sample
		state.sample += uint64(len(samples))
		state.chunks++

		if state.muted {
			d.stats.Muted++
			continue
		}

		d.cache.Put(read.Chunk{
			Channel:     ch,
			Number:      state.number,
			ID:          state.id,
			RawData:     d.scenario.Encoding.Encode(samples),
			StartSample: state.start,
			ChunkStart:  chunkStart,
		})
		produced++
	}
	d.stats.Produced += produced
	return produced
}

// ReadChunks pops up to n chunks from the device cache.
func (d *Device) ReadChunks(_ context.Context, n int, last bool) (read.Batch, error) {
	d.mu.Lock()
	streaming := d.streaming
	d.mu.Unlock()

	if !streaming {
		return nil, instrument.ErrNotStarted
	}
	return d.cache.PopItems(n, last), nil
}

// Unblock ends the addressed read if it is still in progress. Commands for
// reads that already ended are counted and otherwise ignored, as on real
// hardware.
func (d *Device) Unblock(_ context.Context, key read.Key, id read.ReadID, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.channelLocked(key.Channel)
	if err != nil {
		return err
	}
	d.stats.Unblocks++

	if state.number == key.Number && state.id == id {
		d.cache.Discard(key.Channel, key.Number)
		d.nextRead(key.Channel, state)
	}

	d.logger.Debug("simulator unblock",
		"channel", key.Channel,
		"number", key.Number,
		"read_id", string(id),
		"duration", duration)
	return nil
}

// StopReceiving withholds further chunks of the addressed read.
func (d *Device) StopReceiving(_ context.Context, key read.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.channelLocked(key.Channel)
	if err != nil {
		return err
	}
	d.stats.StopReceiving++

	if state.number == key.Number {
		state.muted = true
		d.cache.Discard(key.Channel, key.Number)
	}
	return nil
}

// Message records an operator notification and logs it at the matching
// level.
func (d *Device) Message(ctx context.Context, text string, severity read.Severity) error {
	d.mu.Lock()
	d.stats.Messages++
	d.messages = append(d.messages, Message{Text: text, Severity: severity})
	d.mu.Unlock()

	level := slog.LevelInfo
	switch severity {
	case read.SeverityWarn:
		level = slog.LevelWarn
	case read.SeverityError:
		level = slog.LevelError
	}
	d.logger.Log(ctx, level, "operator message", "text", text)
	return nil
}

// Reset releases the position. Later resets are counted but change
// nothing.
func (d *Device) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Resets++
	d.released = true
	d.streaming = false
	return nil
}

// Stats returns a snapshot of device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Cache = d.cache.Stats()
	return s
}

// Messages returns the operator notifications received so far.
func (d *Device) Messages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.messages...)
}

// Current returns the read in progress on channel.
func (d *Device) Current(channel int) (read.Key, read.ReadID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.channels[channel]
	if !ok {
		return read.Key{}, "", false
	}
	return read.Key{Channel: channel, Number: state.number}, state.id, true
}

func (d *Device) channelLocked(channel int) (*channelState, error) {
	state, ok := d.channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: channel %d is not streaming", instrument.ErrInvalidRead, channel)
	}
	return state, nil
}

func (d *Device) nextRead(channel int, state *channelState) {
	state.number++
	state.id = readID(d.scenario, channel, state.number)
	state.chunks = 0
	state.start = state.sample
	state.muted = false
}

// signal returns n samples of base levels with gaussian noise.
func (d *Device) signal(n int) []float32 {
	samples := make([]float32, n)
	level := baseLevels[d.rng.IntN(len(baseLevels))]
	for i := range samples {
		if i > 0 && i%dwellSamples == 0 {
			level = baseLevels[d.rng.IntN(len(baseLevels))]
		}
		samples[i] = float32(level + d.rng.NormFloat64()*signalNoise)
	}
	return samples
}

// readID derives a stable UUID for a read so repeated runs of a scenario
// produce the same identifiers.
func readID(sc Scenario, channel int, number uint32) read.ReadID {
	name := fmt.Sprintf("readfish-sim/%s/%d/%d/%d", sc.Name, sc.Seed, channel, number)
	return read.ReadID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String())
}

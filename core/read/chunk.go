// Package read defines the data exchanged between the instrument, the
// classifier, and the decision loop: raw signal chunks, batches of chunks,
// and per-read classifier output.
package read

// ReadID is the globally unique identifier the instrument assigns to a read.
type ReadID string

// Chunk is an incrementally delivered fragment of one read's raw signal.
// Chunks are immutable once retrieved; callers must not modify RawData.
type Chunk struct {
	Channel     int    // Physical channel, 1-based.
	Number      uint32 // Read number, monotonically increasing within a channel.
	ID          ReadID // Globally unique read identifier.
	RawData     []byte // Signal samples in the session's Encoding.
	StartSample uint64 // Sample index at which the read started.
	ChunkStart  uint64 // Sample index of the first sample in RawData.
}

// Key identifies the channel/read-number pair a control command targets.
func (c Chunk) Key() Key {
	return Key{Channel: c.Channel, Number: c.Number}
}

// Key addresses one read on one channel.
type Key struct {
	Channel int
	Number  uint32
}

// Batch is the ordered set of chunks retrieved in one polling cycle.
// Order is retrieval order.
type Batch []Chunk

// IDs returns the read identifiers in batch order.
func (b Batch) IDs() []ReadID {
	ids := make([]ReadID, len(b))
	for i, c := range b {
		ids[i] = c.ID
	}
	return ids
}

// Output is the classifier result for one chunk of a batch.
type Output struct {
	Channel  int
	Number   uint32
	ID       ReadID
	Sequence string // Derived base sequence; empty for classifiers that do not call bases.
	Quality  string // Per-base quality annotation aligned with Sequence.
	Position int    // Index of the source chunk within its batch.
}

// Key returns the channel/read-number pair of the output.
func (o Output) Key() Key {
	return Key{Channel: o.Channel, Number: o.Number}
}

// Package classifier turns a batch of read chunks into per-read outputs for
// the decision loop. Classifiers consult the decision ledger and never emit
// a read that has already been resolved.
package classifier

import (
	"context"
	"iter"

	"github.com/tailored-agentic-units/readfish/core/read"
)

// Lookup reports whether a read has already been decided. *ledger.Ledger
// satisfies it.
type Lookup interface {
	Has(id read.ReadID) bool
}

// Classifier produces outputs for the undecided chunks of a batch.
//
// The returned sequence is lazy, finite and single-pass, ordered by batch
// position. A non-nil error paired with an Output that carries a read ID is
// a failure of that read only. An error wrapping ErrUnavailable means the
// classifier itself failed and the sequence ends. When ctx ends the sequence
// stops without an error.
type Classifier interface {
	Classify(ctx context.Context, batch read.Batch, encoding read.Encoding, decided Lookup) iter.Seq2[read.Output, error]
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, batch read.Batch, encoding read.Encoding, decided Lookup) iter.Seq2[read.Output, error]

func (f Func) Classify(ctx context.Context, batch read.Batch, encoding read.Encoding, decided Lookup) iter.Seq2[read.Output, error] {
	return f(ctx, batch, encoding, decided)
}

// undecided yields the chunks of batch, with their positions, that are not
// in decided. It stops when ctx ends.
func undecided(ctx context.Context, batch read.Batch, decided Lookup) iter.Seq2[int, read.Chunk] {
	return func(yield func(int, read.Chunk) bool) {
		for i, c := range batch {
			if ctx.Err() != nil {
				return
			}
			if decided != nil && decided.Has(c.ID) {
				continue
			}
			if !yield(i, c) {
				return
			}
		}
	}
}

func output(position int, c read.Chunk) read.Output {
	return read.Output{
		Channel:  c.Channel,
		Number:   c.Number,
		ID:       c.ID,
		Position: position,
	}
}

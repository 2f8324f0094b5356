package classifier

import (
	"context"
	"iter"

	"github.com/tailored-agentic-units/readfish/core/read"
)

// Passthrough emits every undecided chunk with an empty sequence. It backs
// unblock-all runs, where the decision does not depend on the signal.
type Passthrough struct{}

func (Passthrough) Classify(ctx context.Context, batch read.Batch, _ read.Encoding, decided Lookup) iter.Seq2[read.Output, error] {
	return func(yield func(read.Output, error) bool) {
		for i, c := range undecided(ctx, batch, decided) {
			if !yield(output(i, c), nil) {
				return
			}
		}
	}
}

// Package ledger records which reads a sequencing run has already resolved.
// Each read identifier is decided at most once per run; the ledger is
// append-only for the run's lifetime and is never pruned.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/readfish/core/read"
)

// Outcome is the action taken for a resolved read.
type Outcome uint8

const (
	// OutcomeUnblocked means reject voltage was applied to truncate the read.
	OutcomeUnblocked Outcome = iota + 1
	// OutcomeStopReceiving means the read was accepted and the instrument
	// was told to stop streaming its chunks.
	OutcomeStopReceiving
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnblocked:
		return "unblocked"
	case OutcomeStopReceiving:
		return "stop_receiving"
	default:
		return "unknown"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "unblocked":
		return OutcomeUnblocked, nil
	case "stop_receiving":
		return OutcomeStopReceiving, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
	}
}

// Entry is one resolved read.
type Entry struct {
	ID        read.ReadID
	Outcome   Outcome
	Channel   int
	Number    uint32
	DecidedAt time.Time
}

// Ledger is the in-memory decision record of one run. It is safe for
// concurrent use; Mark is linearizable per read identifier.
type Ledger struct {
	runID   string
	entries map[read.ReadID]Entry
	counts  map[Outcome]int
	journal Journal
	now     func() time.Time
	mu      sync.RWMutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal writes every new entry through to j.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithNow overrides the timestamp source for DecidedAt.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger for runID.
func New(runID string, opts ...Option) *Ledger {
	l := &Ledger{
		runID:   runID,
		entries: make(map[read.ReadID]Entry),
		counts:  make(map[Outcome]int),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunID returns the run this ledger belongs to.
func (l *Ledger) RunID() string {
	return l.runID
}

// Has reports whether id has already been decided.
func (l *Ledger) Has(id read.ReadID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// Mark records the decision for e.ID. It returns false, and changes
// nothing, when the identifier is already present. The in-memory record is
// authoritative: a journal failure is returned after the entry is recorded.
func (l *Ledger) Mark(ctx context.Context, e Entry) (bool, error) {
	if e.ID == "" {
		return false, ErrInvalidReadID
	}
	if e.DecidedAt.IsZero() {
		e.DecidedAt = l.now()
	}

	l.mu.Lock()
	if _, exists := l.entries[e.ID]; exists {
		l.mu.Unlock()
		return false, nil
	}
	l.entries[e.ID] = e
	l.counts[e.Outcome]++
	l.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.Append(ctx, l.runID, e); err != nil {
			return true, fmt.Errorf("%w: %s: %w", ErrJournal, e.ID, err)
		}
	}
	return true, nil
}

// Lookup returns the entry for id.
func (l *Ledger) Lookup(id read.ReadID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	return e, ok
}

// Len returns the number of decided reads.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Counts returns the number of entries per outcome.
func (l *Ledger) Counts() map[Outcome]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[Outcome]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

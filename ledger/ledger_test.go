package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/readfish/core/read"
	"github.com/tailored-agentic-units/readfish/ledger"
)

func TestMark_AtMostOnce(t *testing.T) {
	l := ledger.New("run-1")
	ctx := context.Background()

	added, err := l.Mark(ctx, ledger.Entry{ID: "r1", Outcome: ledger.OutcomeUnblocked, Channel: 4, Number: 9})
	if err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if !added {
		t.Fatal("first Mark reported not added")
	}

	added, err = l.Mark(ctx, ledger.Entry{ID: "r1", Outcome: ledger.OutcomeStopReceiving})
	if err != nil {
		t.Fatalf("second Mark failed: %v", err)
	}
	if added {
		t.Error("second Mark reported added")
	}

	if l.Len() != 1 {
		t.Errorf("got Len %d, want 1", l.Len())
	}

	e, ok := l.Lookup("r1")
	if !ok {
		t.Fatal("Lookup(r1) = false")
	}
	if e.Outcome != ledger.OutcomeUnblocked {
		t.Errorf("got outcome %v, want first decision %v", e.Outcome, ledger.OutcomeUnblocked)
	}

	counts := l.Counts()
	if counts[ledger.OutcomeUnblocked] != 1 || counts[ledger.OutcomeStopReceiving] != 0 {
		t.Errorf("got counts %v, want one unblocked", counts)
	}
}

func TestMark_EmptyID(t *testing.T) {
	l := ledger.New("run-1")
	if _, err := l.Mark(context.Background(), ledger.Entry{}); !errors.Is(err, ledger.ErrInvalidReadID) {
		t.Errorf("got error %v, want ErrInvalidReadID", err)
	}
}

func TestMark_Timestamp(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.New("run-1", ledger.WithNow(func() time.Time { return fixed }))

	if _, err := l.Mark(context.Background(), ledger.Entry{ID: "r1", Outcome: ledger.OutcomeUnblocked}); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	e, _ := l.Lookup("r1")
	if !e.DecidedAt.Equal(fixed) {
		t.Errorf("got DecidedAt %v, want %v", e.DecidedAt, fixed)
	}
}

func TestMark_ConcurrentSameID(t *testing.T) {
	l := ledger.New("run-1")

	var added atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Mark(context.Background(), ledger.Entry{ID: "shared", Outcome: ledger.OutcomeUnblocked})
			if err != nil {
				t.Errorf("Mark failed: %v", err)
			}
			if ok {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	if added.Load() != 1 {
		t.Errorf("got %d successful marks, want 1", added.Load())
	}
	if l.Counts()[ledger.OutcomeUnblocked] != 1 {
		t.Errorf("got counts %v, want one", l.Counts())
	}
}

var errDiskFull = errors.New("disk full")

type failingJournal struct {
	appended []read.ReadID
}

func (j *failingJournal) Append(ctx context.Context, runID string, e ledger.Entry) error {
	j.appended = append(j.appended, e.ID)
	return errDiskFull
}

func (j *failingJournal) Entries(ctx context.Context, runID string) ([]ledger.Entry, error) {
	return nil, nil
}

func (j *failingJournal) Runs(ctx context.Context) ([]ledger.RunSummary, error) { return nil, nil }

func (j *failingJournal) Close() error { return nil }

func TestMark_JournalFailureKeepsEntry(t *testing.T) {
	journal := &failingJournal{}
	l := ledger.New("run-1", ledger.WithJournal(journal))

	added, err := l.Mark(context.Background(), ledger.Entry{ID: "r1", Outcome: ledger.OutcomeUnblocked})
	if !errors.Is(err, ledger.ErrJournal) {
		t.Errorf("got error %v, want ErrJournal", err)
	}
	if !errors.Is(err, errDiskFull) {
		t.Errorf("got error %v, want it to wrap the journal's error", err)
	}
	if !added || !l.Has("r1") {
		t.Error("entry should be recorded in memory despite journal failure")
	}

	// Duplicates never reach the journal.
	if _, err := l.Mark(context.Background(), ledger.Entry{ID: "r1", Outcome: ledger.OutcomeUnblocked}); err != nil {
		t.Errorf("duplicate Mark returned %v, want nil", err)
	}
	if len(journal.appended) != 1 {
		t.Errorf("journal saw %d appends, want 1", len(journal.appended))
	}
}

func TestOutcome_Parse(t *testing.T) {
	for _, o := range []ledger.Outcome{ledger.OutcomeUnblocked, ledger.OutcomeStopReceiving} {
		got, err := ledger.ParseOutcome(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOutcome(%q) = %v, %v; want %v", o.String(), got, err, o)
		}
	}
	if _, err := ledger.ParseOutcome("maybe"); !errors.Is(err, ledger.ErrUnknownOutcome) {
		t.Errorf("got error %v, want ErrUnknownOutcome", err)
	}
}

func TestSQLiteJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.db")
	ctx := context.Background()

	journal, err := ledger.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer journal.Close()

	first := ledger.New("run-a", ledger.WithJournal(journal))
	for i := 0; i < 3; i++ {
		outcome := ledger.OutcomeUnblocked
		if i == 2 {
			outcome = ledger.OutcomeStopReceiving
		}
		id := read.ReadID(fmt.Sprintf("read-%d", i))
		if _, err := first.Mark(ctx, ledger.Entry{ID: id, Outcome: outcome, Channel: i + 1, Number: uint32(10 + i)}); err != nil {
			t.Fatalf("Mark failed: %v", err)
		}
	}

	second := ledger.New("run-b", ledger.WithJournal(journal))
	if _, err := second.Mark(ctx, ledger.Entry{ID: "read-0", Outcome: ledger.OutcomeUnblocked, Channel: 1}); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	// Direct duplicate append is ignored by the store.
	if err := journal.Append(ctx, "run-a", ledger.Entry{ID: "read-0", Outcome: ledger.OutcomeStopReceiving, DecidedAt: time.Now()}); err != nil {
		t.Fatalf("duplicate Append failed: %v", err)
	}

	entries, err := journal.Entries(ctx, "run-a")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].ID != "read-0" || entries[0].Outcome != ledger.OutcomeUnblocked {
		t.Errorf("got first entry %+v, want read-0 unblocked", entries[0])
	}
	if entries[2].Outcome != ledger.OutcomeStopReceiving || entries[2].Number != 12 || entries[2].Channel != 3 {
		t.Errorf("got third entry %+v, want channel 3 read 12 stop_receiving", entries[2])
	}

	runs, err := journal.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "run-b" {
		t.Errorf("got most recent run %q, want run-b", runs[0].RunID)
	}
	if runs[1].Decisions != 3 || runs[1].Unblocked != 2 {
		t.Errorf("got run-a summary %+v, want 3 decisions, 2 unblocked", runs[1])
	}
}

func TestSQLiteJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.db")
	ctx := context.Background()

	journal, err := ledger.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := journal.Append(ctx, "run-a", ledger.Entry{ID: "r1", Outcome: ledger.OutcomeUnblocked, DecidedAt: time.Now()}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := ledger.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Entries(ctx, "run-a")
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "r1" {
		t.Errorf("got entries %+v, want r1", entries)
	}
}

func TestConfig(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.Merge(&ledger.Config{})
	if cfg.Path != "" {
		t.Errorf("got Path %q, want empty", cfg.Path)
	}

	j, err := ledger.NewJournal(&cfg)
	if err != nil || j != nil {
		t.Errorf("NewJournal with empty path = %v, %v; want nil, nil", j, err)
	}

	cfg.Merge(&ledger.Config{Path: filepath.Join(t.TempDir(), "j.db")})
	j, err = ledger.NewJournal(&cfg)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	if j == nil {
		t.Fatal("NewJournal returned nil journal")
	}
	j.Close()
}

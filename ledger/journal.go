package ledger

import "context"

// Journal persists ledger entries outside the process. Appends are
// idempotent: writing the same (run, read) pair twice keeps the first entry.
type Journal interface {
	// Append stores e under runID.
	Append(ctx context.Context, runID string, e Entry) error
	// Entries returns the entries of runID in decision order.
	Entries(ctx context.Context, runID string) ([]Entry, error)
	// Runs returns summaries of all journaled runs, most recent first.
	Runs(ctx context.Context) ([]RunSummary, error)
	// Close releases the underlying storage.
	Close() error
}

// RunSummary describes one journaled run.
type RunSummary struct {
	RunID     string
	Decisions int
	Unblocked int
}

// Config holds journal initialization parameters.
type Config struct {
	Path string `json:"path,omitempty" mapstructure:"path" toml:"path,omitempty"` // SQLite file; empty disables the journal.
}

// DefaultConfig returns the default configuration (journal disabled).
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Path != "" {
		c.Path = source.Path
	}
}

// NewJournal opens the configured journal. It returns a nil Journal when
// Path is empty.
func NewJournal(cfg *Config) (Journal, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	j, err := OpenSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	return j, nil
}

package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tailored-agentic-units/readfish/core/read"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// SQLiteJournal is a Journal backed by a SQLite database in WAL mode.
type SQLiteJournal struct {
	db *sql.DB
}

var _ Journal = (*SQLiteJournal)(nil)

// OpenSQLite creates or opens the journal database at path and applies the
// schema. Opening an existing journal is idempotent.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// One writer; avoids SQLITE_BUSY between the loop and readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set schema version: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Append inserts e. A second entry for the same run and read is ignored.
func (j *SQLiteJournal) Append(ctx context.Context, runID string, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO decisions (run_id, read_id, outcome, channel, read_number, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, read_id) DO NOTHING
	`,
		runID,
		string(e.ID),
		e.Outcome.String(),
		e.Channel,
		e.Number,
		e.DecidedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT read_id, outcome, channel, read_number, decided_at
		FROM decisions
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id      string
			outcome string
			e       Entry
			nanos   int64
		)
		if err := rows.Scan(&id, &outcome, &e.Channel, &e.Number, &nanos); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if e.Outcome, err = ParseOutcome(outcome); err != nil {
			return nil, err
		}
		e.ID = read.ReadID(id)
		e.DecidedAt = time.Unix(0, nanos).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return entries, nil
}

func (j *SQLiteJournal) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'unblocked' THEN 1 ELSE 0 END)
		FROM decisions
		GROUP BY run_id
		ORDER BY MAX(seq) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Decisions, &r.Unblocked); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

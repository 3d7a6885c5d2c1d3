// Package store persists suite run history to SQLite.
//
// History is optional: the CLI opens the store only when --db is given.
// The schema is embedded and applied idempotently on open.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"frametest/internal/suite"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable storage for suite results.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically; idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under the suite's write pattern.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// WriteRun records a completed suite run and all of its test results in
// one transaction.
func (s *Store) WriteRun(ctx context.Context, res *suite.SuiteResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, suite, started_at, duration_ms, passed, failed, errored, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.RunID,
		res.Suite,
		res.StartedAt.UTC().Format(time.RFC3339),
		res.Duration.Milliseconds(),
		res.Passed,
		res.Failed,
		res.Errored,
		res.TimedOut,
	)
	if err != nil {
		return fmt.Errorf("write run %s: %w", res.RunID, err)
	}

	for i := range res.Results {
		r := &res.Results[i]
		reasons, err := json.Marshal(r.Reasons())
		if err != nil {
			return fmt.Errorf("marshal reasons for %s: %w", r.Name, err)
		}
		artifacts, err := json.Marshal(r.Artifacts)
		if err != nil {
			return fmt.Errorf("marshal artifacts for %s: %w", r.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO test_results (run_id, position, name, status, duration_ms, frames, reasons, artifacts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			res.RunID, i, r.Name, string(r.Status), r.Duration.Milliseconds(), r.Frames,
			string(reasons), string(artifacts),
		)
		if err != nil {
			return fmt.Errorf("write result %s: %w", r.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run write: %w", err)
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	RunID     string
	Suite     string
	StartedAt string
	Duration  time.Duration
	Passed    int
	Failed    int
	Errored   int
	TimedOut  int
}

// RecentRuns returns the newest runs first, at most limit rows.
// UUIDv7 run IDs sort by creation time, so ordering by id is ordering by
// recency.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite, started_at, duration_ms, passed, failed, errored, timed_out
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Suite, &r.StartedAt, &ms, &r.Passed, &r.Failed, &r.Errored, &r.TimedOut); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if out == nil {
		out = []RunSummary{}
	}
	return out, nil
}

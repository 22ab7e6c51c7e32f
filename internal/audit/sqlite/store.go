// Package sqlite implements the audit store on an embedded SQLite database,
// the default for single-binary deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/caligo-app/caligo/internal/audit"
	"github.com/caligo-app/caligo/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_runs (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    filename   TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
    run_id      TEXT NOT NULL REFERENCES audit_runs(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    original    TEXT NOT NULL,
    replacement TEXT NOT NULL,
    match_count INTEGER NOT NULL,
    entity_type TEXT NOT NULL,
    source      TEXT NOT NULL,
    PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_audit_runs_session ON audit_runs(session_id, applied_at);
`

// Store implements audit.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the audit database at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open audit database: %w", err)
	}

	// SQLite allows one writer; a single connection serializes writes and
	// avoids SQLITE_BUSY under concurrent apply runs.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun implements audit.Store. The run and its entries commit in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, run *audit.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_runs (id, session_id, filename, applied_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Filename, run.AppliedAt,
	); err != nil {
		return fmt.Errorf("sqlite: insert run: %w", err)
	}

	for i, e := range run.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_entries (run_id, position, original, replacement, match_count, entity_type, source)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, e.Original, e.Replacement, e.MatchCount, string(e.Type), string(e.Source),
		); err != nil {
			return fmt.Errorf("sqlite: insert entry: %w", err)
		}
	}
	return tx.Commit()
}

// RunsForSession implements audit.Store.
func (s *Store) RunsForSession(ctx context.Context, sessionID string) ([]*audit.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, filename, applied_at FROM audit_runs
		 WHERE session_id = ? ORDER BY applied_at DESC, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query runs: %w", err)
	}
	defer rows.Close()

	var runs []*audit.Run
	for rows.Next() {
		run := &audit.Run{}
		if err := rows.Scan(&run.ID, &run.SessionID, &run.Filename, &run.AppliedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.Entries, err = s.entriesFor(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// GetRun implements audit.Store.
func (s *Store) GetRun(ctx context.Context, id string) (*audit.Run, error) {
	run := &audit.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, filename, applied_at FROM audit_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.SessionID, &run.Filename, &run.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: audit run %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query run: %w", err)
	}

	if run.Entries, err = s.entriesFor(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// Close implements audit.Store.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) entriesFor(ctx context.Context, runID string) ([]types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT original, replacement, match_count, entity_type, source
		 FROM audit_entries WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entries: %w", err)
	}
	defer rows.Close()

	var entries []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var typ, src string
		if err := rows.Scan(&e.Original, &e.Replacement, &e.MatchCount, &typ, &src); err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		e.Type = types.EntityType(typ)
		e.Source = types.Source(src)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

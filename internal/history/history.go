// Package history keeps a local record of finished exports.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oszuidwest/zwfm-audiodesk/internal/types"
	"github.com/oszuidwest/zwfm-audiodesk/internal/util"
)

// FileName is the database name inside the application root.
const FileName = "history.db"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is an export history backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of concurrent exports.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	const v1 = 1
	applied, err := s.hasMigration(ctx, v1)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS exports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			input TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exports_finished_at ON exports(finished_at);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range schema {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
		v1, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

func (s *Store) hasMigration(ctx context.Context, version int) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record stores a finished export and returns its id.
func (s *Store) Record(ctx context.Context, e *types.HistoryEntry) (int64, error) {
	if e == nil {
		return 0, errors.New("record: entry is nil")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO exports(session_id, kind, input, output, state, exit_code, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Kind), e.Input, e.Output, string(e.State), e.ExitCode,
		e.StartedAt.UTC().Format(timeLayout), e.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record: %w", err)
	}
	e.ID = id
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		return []types.HistoryEntry{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, input, output, state, exit_code, started_at, finished_at
		FROM exports
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer util.SafeCloseFunc(rows, "history rows")()

	out := make([]types.HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e                 types.HistoryEntry
			kind, state       string
			started, finished string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &e.Input, &e.Output, &state, &e.ExitCode, &started, &finished); err != nil {
			return nil, fmt.Errorf("recent: scan: %w", err)
		}
		e.Kind = types.ExportKind(kind)
		e.State = types.ExportState(state)
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("recent: started_at: %w", err)
		}
		if e.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("recent: finished_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

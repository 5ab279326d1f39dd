// Package sqlite provides a SQLite-backed checkpoint store using the pure-Go
// modernc.org/sqlite driver. Suitable for single-node deployments that need
// durability across restarts without an external database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/invopipe/invopipe/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	workflow_id TEXT PRIMARY KEY,
	record      BLOB NOT NULL,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Store persists checkpoint records in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the checkpoint
// table exists. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; funneling through one connection
	// avoids SQLITE_BUSY under concurrent workflow runs.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an existing database handle. The caller owns the handle's
// lifecycle; Close on the returned store closes it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts the record for a workflow id.
func (s *Store) Save(ctx context.Context, workflowID string, record []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (workflow_id, record, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (workflow_id) DO UPDATE SET
			record = excluded.record,
			updated_at = CURRENT_TIMESTAMP`,
		workflowID, record)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the last saved record for a workflow id.
func (s *Store) Load(ctx context.Context, workflowID string) ([]byte, bool, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM checkpoints WHERE workflow_id = ?`, workflowID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return record, true, nil
}

// Exists reports whether a record exists for a workflow id.
func (s *Store) Exists(ctx context.Context, workflowID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM checkpoints WHERE workflow_id = ?`, workflowID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint: %w", err)
	}
	return true, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)

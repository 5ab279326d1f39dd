// Package postgres provides a Postgres-backed checkpoint store using pgx.
// The table uses the workflow id as primary key with upsert semantics, so
// the store always holds exactly the last checkpoint per workflow.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invopipe/invopipe/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	workflow_id TEXT PRIMARY KEY,
	record      JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Store persists checkpoint records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool for the given connection string and runs
// the schema migration.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool without running migrations.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the checkpoint table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// Save upserts the record for a workflow id.
func (s *Store) Save(ctx context.Context, workflowID string, record []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (workflow_id, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (workflow_id) DO UPDATE SET
			record = excluded.record,
			updated_at = now()`,
		workflowID, record)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the last saved record for a workflow id.
func (s *Store) Load(ctx context.Context, workflowID string) ([]byte, bool, error) {
	var record []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM checkpoints WHERE workflow_id = $1`, workflowID).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return record, true, nil
}

// Exists reports whether a record exists for a workflow id.
func (s *Store) Exists(ctx context.Context, workflowID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM checkpoints WHERE workflow_id = $1)`, workflowID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint: %w", err)
	}
	return exists, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ store.Store = (*Store)(nil)

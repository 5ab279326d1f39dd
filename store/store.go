// Package store defines the checkpoint persistence interface and an
// in-memory reference implementation. Durable backends (SQLite, Postgres,
// Redis, NATS JetStream) live in subpackages and implement the same
// interface.
//
// A checkpoint record is an opaque serialized document keyed by workflow id
// with overwrite semantics: the store keeps only the last saved record per
// id. The orchestrator guarantees a single writer per workflow id, so
// backends never need cross-record coordination.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned when an operation is attempted on a closed store.
var ErrClosed = errors.New("checkpoint store is closed")

// Store persists the last checkpoint record per workflow id.
type Store interface {
	// Save durably writes the record for a workflow id, overwriting any
	// previous record. A nil error means the record is durable.
	Save(ctx context.Context, workflowID string, record []byte) error

	// Load returns the last saved record for a workflow id. found is false
	// when no record exists.
	Load(ctx context.Context, workflowID string) (record []byte, found bool, err error)

	// Exists reports whether a record exists for a workflow id.
	Exists(ctx context.Context, workflowID string) (bool, error)

	// Close releases backend resources.
	Close() error
}

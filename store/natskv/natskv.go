// Package natskv provides a checkpoint store backed by a NATS JetStream
// key-value bucket. Useful when the deployment already runs NATS for
// messaging and wants checkpoint durability without a separate database.
package natskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/invopipe/invopipe/store"
)

// DefaultBucket is the bucket name used when none is given.
const DefaultBucket = "invopipe-checkpoints"

// Store persists checkpoint records in a JetStream key-value bucket.
type Store struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

// Connect dials the NATS server, creates (or opens) the bucket, and returns
// the store. Close also closes the connection.
func Connect(ctx context.Context, url, bucket string) (*Store, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s, err := New(ctx, nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// New creates (or opens) the bucket on an existing connection. The caller
// retains ownership of the connection.
func New(ctx context.Context, nc *nats.Conn, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "invopipe workflow checkpoints",
		History:     1, // overwrite semantics: only the last record matters
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value bucket: %w", err)
	}

	return &Store{kv: kv}, nil
}

// Save overwrites the record for a workflow id.
func (s *Store) Save(ctx context.Context, workflowID string, record []byte) error {
	if _, err := s.kv.Put(ctx, workflowID, record); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the last saved record for a workflow id.
func (s *Store) Load(ctx context.Context, workflowID string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, workflowID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return entry.Value(), true, nil
}

// Exists reports whether a record exists for a workflow id.
func (s *Store) Exists(ctx context.Context, workflowID string) (bool, error) {
	_, err := s.kv.Get(ctx, workflowID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint: %w", err)
	}
	return true, nil
}

// Close closes the NATS connection if this store owns it.
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

var _ store.Store = (*Store)(nil)

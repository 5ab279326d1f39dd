// Package redis provides a Redis-backed checkpoint store. Records are plain
// string values under a configurable key prefix; overwrite semantics come
// for free from SET.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/invopipe/invopipe/store"
)

// DefaultPrefix is prepended to workflow ids when no prefix is given.
const DefaultPrefix = "invopipe:checkpoint:"

// Store persists checkpoint records in Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing Redis client. An empty prefix falls back to
// DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(workflowID string) string {
	return s.prefix + workflowID
}

// Save overwrites the record for a workflow id. Records do not expire.
func (s *Store) Save(ctx context.Context, workflowID string, record []byte) error {
	if err := s.client.Set(ctx, s.key(workflowID), record, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the last saved record for a workflow id.
func (s *Store) Load(ctx context.Context, workflowID string) ([]byte, bool, error) {
	record, err := s.client.Get(ctx, s.key(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return record, true, nil
}

// Exists reports whether a record exists for a workflow id.
func (s *Store) Exists(ctx context.Context, workflowID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(workflowID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check checkpoint: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)

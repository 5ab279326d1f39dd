package store

import (
	"context"
	"sync"
)

// Memory is a threadsafe in-memory checkpoint store. It is the reference
// implementation used in tests and single-process deployments where
// durability across restarts is not required.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
	closed  bool
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Save stores a copy of the record, overwriting any previous one.
func (m *Memory) Save(_ context.Context, workflowID string, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	cp := make([]byte, len(record))
	copy(cp, record)
	m.records[workflowID] = cp
	return nil
}

// Load returns a copy of the last saved record.
func (m *Memory) Load(_ context.Context, workflowID string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	record, ok := m.records[workflowID]
	if !ok {
		return nil, false, nil
	}

	cp := make([]byte, len(record))
	copy(cp, record)
	return cp, true, nil
}

// Exists reports whether a record exists for the workflow id.
func (m *Memory) Exists(_ context.Context, workflowID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	_, ok := m.records[workflowID]
	return ok, nil
}

// Close marks the store closed. Subsequent operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of stored records. Intended for tests and
// monitoring.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

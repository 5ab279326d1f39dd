package invopipe

import (
	"fmt"

	"github.com/sasha-s/go-deadlock"
)

// lockRegistry enforces the single-writer invariant: at most one executor
// runs per workflow id at any time. Acquisition never blocks; a second
// caller is rejected immediately with ErrWorkflowBusy.
type lockRegistry struct {
	mu     deadlock.Mutex
	active map[string]struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{active: make(map[string]struct{})}
}

// acquire claims the lock for a workflow id or fails with ErrWorkflowBusy.
func (l *lockRegistry) acquire(workflowID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[workflowID]; held {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowBusy)
	}
	l.active[workflowID] = struct{}{}
	return nil
}

// release frees the lock. Releasing an unheld lock is a no-op.
func (l *lockRegistry) release(workflowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, workflowID)
}

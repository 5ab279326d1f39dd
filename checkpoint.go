package invopipe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopipe/invopipe/store"
)

// SaveState serializes a workflow state and writes it to the checkpoint
// store. The record always reflects the state after the most recently
// completed stage transition; partial stage execution is never checkpointed.
func SaveState(ctx context.Context, s store.Store, state *WorkflowState) error {
	state.UpdatedAt = time.Now().UTC()

	record, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint for workflow %s: %w", state.WorkflowID, err)
	}

	if err := s.Save(ctx, state.WorkflowID, record); err != nil {
		return fmt.Errorf("%w: workflow %s: %w", ErrCheckpointWrite, state.WorkflowID, err)
	}
	return nil
}

// LoadState reads and deserializes the last checkpoint for a workflow id.
// found is false when no checkpoint exists.
func LoadState(ctx context.Context, s store.Store, workflowID string) (*WorkflowState, bool, error) {
	record, found, err := s.Load(ctx, workflowID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint for workflow %s: %w", workflowID, err)
	}
	if !found {
		return nil, false, nil
	}

	var state WorkflowState
	if err := json.Unmarshal(record, &state); err != nil {
		return nil, false, fmt.Errorf("failed to decode checkpoint for workflow %s: %w", workflowID, err)
	}
	return &state, true, nil
}

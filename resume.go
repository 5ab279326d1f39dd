package invopipe

import (
	"context"
	"fmt"
)

// Reviewer actions understood by Resume. A decision without an action key is
// treated as corrected input for the paused stage.
const (
	// DecisionKeyAction is the decision key carrying an explicit reviewer
	// action.
	DecisionKeyAction = "action"

	// ReviewApprove advances past the paused stage.
	ReviewApprove = "approve"
	// ReviewReject terminates the workflow as failed.
	ReviewReject = "reject"
	// ReviewEscalate terminates the workflow as escalated.
	ReviewEscalate = "escalate"
)

// Resume revives a paused workflow with an external decision and re-enters
// the executor loop. The workflow must be paused for review; otherwise
// Resume fails with ErrNotResumable. A paused state can be revived exactly
// once per pause event: the pending fields are cleared before execution
// continues, so a second Resume finds a non-paused state.
//
// The decision is a small, stage-defined payload. An explicit reviewer
// action under the "action" key maps as follows:
//   - approve: proceed to the stage after the one that paused
//   - reject: terminate as failed
//   - escalate: terminate as escalated
//
// Any other decision is merged into the payload as corrected input and the
// paused stage re-evaluates it with a fresh retry budget.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string, decision map[string]any) (*WorkflowState, error) {
	if err := o.locks.acquire(workflowID); err != nil {
		return nil, err
	}
	defer o.locks.release(workflowID)

	state, found, err := LoadState(ctx, o.checkpoints, workflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("workflow %s: %w (%s)", workflowID, ErrNotResumable, "no checkpoint found")
	}
	if state.Status != StatusPausedForReview {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, state.Status, ErrNotResumable)
	}

	o.logger.Info("Resuming workflow %s at stage %s with decision", workflowID, state.CurrentStage)

	o.applyDecision(state, decision)

	if err := SaveState(ctx, o.checkpoints, state); err != nil {
		return nil, err
	}

	if state.Terminal() {
		// The reviewer's action terminated the workflow directly; the
		// persisted verdict is final and the loop is not re-entered.
		return state, nil
	}

	return o.runLocked(ctx, state)
}

// applyDecision merges the reviewer decision into the paused state and
// selects the stage that re-evaluates it.
func (o *Orchestrator) applyDecision(state *WorkflowState, decision map[string]any) {
	pausedStage := state.CurrentStage

	// Merge the decision into the payload (and transiently into the pending
	// context, which is cleared below) so downstream stages can read it.
	if state.Payload == nil {
		state.Payload = make(map[string]any)
	}
	for k, v := range decision {
		state.Payload[k] = cloneValue(v)
	}

	state.PendingReason = ""
	state.PendingContext = nil

	action, _ := decision[DecisionKeyAction].(string)
	switch action {
	case ReviewApprove:
		state.PreviousStage = pausedStage
		next, ok := o.topology.Successor(pausedStage)
		if !ok || next == "" {
			// Approving at the terminal stage completes the run outright.
			state.Status = StatusCompleted
			return
		}
		state.CurrentStage = next
		state.RetryCount = 0
		state.Status = StatusProcessing

	case ReviewReject:
		state.Status = StatusFailed
		state.ErrorKind = ErrKindReviewRejected
		state.ErrorDetail = fmt.Sprintf("reviewer rejected workflow at stage '%s'", pausedStage)

	case ReviewEscalate:
		state.Status = StatusEscalated
		state.ErrorKind = ErrKindReviewEscalation
		state.ErrorDetail = fmt.Sprintf("reviewer escalated workflow at stage '%s'", pausedStage)

	default:
		// Corrected inputs: the paused stage re-evaluates them with a fresh
		// retry budget.
		state.RetryCount = 0
		state.Status = StatusProcessing
	}
}

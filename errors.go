package invopipe

import "errors"

var (
	// ErrWorkflowNotFound is returned when no checkpoint exists for the
	// requested workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowBusy is returned when Run or Resume is invoked for a
	// workflow id that is already being executed. A single workflow id is
	// executed by at most one executor at any time.
	ErrWorkflowBusy = errors.New("workflow is already being executed")

	// ErrNotResumable is returned when Resume is called on a workflow that
	// is not paused for review.
	ErrNotResumable = errors.New("workflow is not paused for review")

	// ErrUnknownStage is returned when the current stage is not present in
	// the stage registry.
	ErrUnknownStage = errors.New("stage not found in registry")

	// ErrCheckpointWrite is returned when a checkpoint could not be written
	// durably. The run terminates rather than proceeding on unpersisted
	// state.
	ErrCheckpointWrite = errors.New("checkpoint write failed")

	// ErrTerminalState is returned when execution is requested for a
	// workflow that already reached a terminal status.
	ErrTerminalState = errors.New("workflow already reached a terminal state")
)

package invopipe

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/invopipe/invopipe/store"
)

// Orchestrator is the external entry point of the pipeline: it creates
// workflow instances, drives them through the executor, resumes paused ones,
// and serves read-only state inspection.
//
// It enforces the single-writer invariant with a per-workflow lock acquired
// before Run or Resume and held until the loop suspends or terminates.
type Orchestrator struct {
	executor    *Executor
	checkpoints store.Store
	topology    *Topology
	logger      Logger

	locks *lockRegistry

	cancelMu deadlock.Mutex
	cancels  map[string]context.CancelFunc

	executorOpts      []ExecutorOption
	defaultMaxRetries int
}

// OrchestratorOption is a function that configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger for the orchestrator and its
// executor.
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithDefaultMaxRetries sets the retry budget applied when Start is called
// with a non-positive maxRetries.
func WithDefaultMaxRetries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultMaxRetries = n
	}
}

// WithExecutorOptions passes options through to the underlying executor.
func WithExecutorOptions(opts ...ExecutorOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// NewOrchestrator assembles an orchestrator from an immutable stage
// registry, a checkpoint store, and a topology. The topology must validate
// against the registry.
func NewOrchestrator(registry *StageRegistry, checkpoints store.Store, topology *Topology, opts ...OrchestratorOption) (*Orchestrator, error) {
	if err := topology.Validate(registry); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		checkpoints:       checkpoints,
		topology:          topology,
		logger:            NewDefaultLogger(),
		locks:             newLockRegistry(),
		cancels:           make(map[string]context.CancelFunc),
		defaultMaxRetries: 3,
	}

	for _, opt := range opts {
		opt(o)
	}

	execOpts := append([]ExecutorOption{WithLogger(o.logger)}, o.executorOpts...)
	o.executor = NewExecutor(registry, checkpoints, topology, execOpts...)

	return o, nil
}

// Start creates a new workflow instance for a subject, checkpoints its
// initial state, and drives it until it reaches a terminal or paused state.
func (o *Orchestrator) Start(ctx context.Context, subjectID string, payload map[string]any, maxRetries int) (*WorkflowState, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id cannot be empty")
	}
	if maxRetries <= 0 {
		maxRetries = o.defaultMaxRetries
	}

	workflowID := uuid.NewString()
	state := NewWorkflowState(workflowID, subjectID, o.topology.Initial(), payload, maxRetries)

	// The initial checkpoint makes the workflow discoverable before the
	// first stage runs.
	if err := SaveState(ctx, o.checkpoints, state); err != nil {
		return nil, err
	}

	if err := o.locks.acquire(workflowID); err != nil {
		return nil, err
	}
	defer o.locks.release(workflowID)

	o.logger.Info("Started workflow %s for subject %s", workflowID, subjectID)
	return o.runLocked(ctx, state)
}

// Run re-enters the executor loop for a workflow that stopped without
// reaching a terminal or paused state, such as after cooperative
// cancellation or a process restart. Paused workflows must go through
// Resume; terminal workflows are rejected.
func (o *Orchestrator) Run(ctx context.Context, workflowID string) (*WorkflowState, error) {
	if err := o.locks.acquire(workflowID); err != nil {
		return nil, err
	}
	defer o.locks.release(workflowID)

	state, found, err := LoadState(ctx, o.checkpoints, workflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowNotFound)
	}
	if state.Terminal() {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, state.Status, ErrTerminalState)
	}
	if state.Status == StatusPausedForReview {
		return nil, fmt.Errorf("workflow %s is paused for review and requires a Resume decision", workflowID)
	}

	state.Cancelled = false

	o.logger.Info("Re-entering workflow %s at stage %s", workflowID, state.CurrentStage)
	return o.runLocked(ctx, state)
}

// GetState returns the last checkpointed state of a workflow. It never
// mutates state and can be called while the workflow is running.
func (o *Orchestrator) GetState(ctx context.Context, workflowID string) (*WorkflowState, error) {
	state, found, err := LoadState(ctx, o.checkpoints, workflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowNotFound)
	}
	return state, nil
}

// Cancel requests cooperative cancellation of a running workflow. The
// executor observes the request between stages, checkpoints the state with
// the cancelled flag, and returns; no stage is aborted mid-execution.
// Cancelling a workflow that is not running is a no-op and returns false.
func (o *Orchestrator) Cancel(workflowID string) bool {
	o.cancelMu.Lock()
	cancel, ok := o.cancels[workflowID]
	o.cancelMu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// runLocked executes the state under an already-held per-workflow lock,
// registering a cancel function for the duration of the run.
func (o *Orchestrator) runLocked(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.cancelMu.Lock()
	o.cancels[state.WorkflowID] = cancel
	o.cancelMu.Unlock()

	defer func() {
		o.cancelMu.Lock()
		delete(o.cancels, state.WorkflowID)
		o.cancelMu.Unlock()
	}()

	return o.executor.Run(runCtx, state)
}

package invopipe

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/invopipe/invopipe/store"
)

const tracerName = "github.com/invopipe/invopipe"

// defaultStageTimeout bounds a single stage invocation when the stage was
// registered without its own timeout.
const defaultStageTimeout = 30 * time.Second

// RunFunc is the core function type for driving a workflow run.
type RunFunc func(ctx context.Context, state *WorkflowState) (*WorkflowState, error)

// Middleware represents a function that wraps a workflow run. Middleware can
// perform actions before and after the run, inspect the resulting state, or
// skip execution entirely.
type Middleware func(next RunFunc) RunFunc

// Executor drives the engine loop: it invokes the stage named by the state's
// current stage, asks the router for the next action, checkpoints the
// resulting state, and repeats until a terminal or pause action is reached.
//
// An Executor is safe for concurrent use across workflow ids. The caller
// must guarantee that a single workflow id is executed by at most one Run or
// Resume at any time; the Orchestrator enforces this with a per-id lock.
type Executor struct {
	registry    *StageRegistry
	checkpoints store.Store
	topology    *Topology

	logger       Logger
	middleware   []Middleware
	backoff      BackoffStrategy
	observer     Observer
	tracer       trace.Tracer
	stageTimeout time.Duration
}

// ExecutorOption is a function that configures an Executor
type ExecutorOption func(*Executor)

// WithLogger sets the logger for the executor
func WithLogger(logger Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMiddleware adds middleware to the executor's run chain
func WithMiddleware(middleware ...Middleware) ExecutorOption {
	return func(e *Executor) {
		e.middleware = append(e.middleware, middleware...)
	}
}

// WithBackoff sets the delay strategy applied before each retry
func WithBackoff(strategy BackoffStrategy) ExecutorOption {
	return func(e *Executor) {
		e.backoff = strategy
	}
}

// WithObserver sets the observer notified of stage executions and run exits
func WithObserver(observer Observer) ExecutorOption {
	return func(e *Executor) {
		e.observer = observer
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for run and
// stage spans. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithDefaultStageTimeout sets the timeout for stages registered without one
func WithDefaultStageTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.stageTimeout = d
	}
}

// NewExecutor creates an executor over an immutable stage registry, a
// checkpoint store, and a stage topology.
func NewExecutor(registry *StageRegistry, checkpoints store.Store, topology *Topology, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:     registry,
		checkpoints:  checkpoints,
		topology:     topology,
		logger:       NewDefaultLogger(),
		backoff:      DefaultBackoff(),
		observer:     NoopObserver{},
		tracer:       otel.Tracer(tracerName),
		stageTimeout: defaultStageTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Use adds middleware to the executor's run chain
func (e *Executor) Use(middleware ...Middleware) {
	e.middleware = append(e.middleware, middleware...)
}

// Run drives the workflow until it reaches a terminal status, pauses for
// review, or is cancelled. The returned state is always the last durably
// checkpointed one.
//
// Routing outcomes are expressed in the returned state's Status, not as Go
// errors: a failed or escalated workflow returns a nil error. Run returns a
// non-nil error only for orchestration faults, such as a checkpoint write
// failure or a state that is already terminal.
func (e *Executor) Run(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var handler RunFunc = e.run

	// Apply middleware in reverse order so the first added runs outermost.
	for i := len(e.middleware) - 1; i >= 0; i-- {
		handler = e.middleware[i](handler)
	}

	return handler(ctx, state)
}

// run is the core engine loop.
func (e *Executor) run(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
	if state.Terminal() {
		return state, fmt.Errorf("workflow %s: %w", state.WorkflowID, ErrTerminalState)
	}

	ctx, span := e.tracer.Start(ctx, "invopipe.run", trace.WithAttributes(
		attribute.String("invopipe.workflow_id", state.WorkflowID),
		attribute.String("invopipe.subject_id", state.SubjectID),
	))
	defer span.End()

	e.logger.Info("Starting run for workflow %s (subject %s) at stage %s",
		state.WorkflowID, state.SubjectID, state.CurrentStage)

	// The last durably checkpointed state. The caller checkpointed the
	// incoming state before handing it to Run.
	lastDurable := state.Clone()

	for {
		// Cooperative cancellation, checked between stages only.
		select {
		case <-ctx.Done():
			state.Cancelled = true
			if err := SaveState(ctx, e.checkpoints, state); err != nil {
				return e.checkpointFailure(lastDurable, err, span)
			}
			e.logger.Warn("Workflow %s cancelled at stage %s", state.WorkflowID, state.CurrentStage)
			e.observer.RunFinished(state.WorkflowID, state.Status)
			span.SetStatus(codes.Error, "cancelled")
			return state, nil
		default:
		}

		entry, ok := e.registry.lookup(state.CurrentStage)
		if !ok {
			state.Status = StatusFailed
			state.ErrorKind = ErrKindUnknownStage
			state.ErrorDetail = fmt.Sprintf("stage '%s' is not registered", state.CurrentStage)
			if err := SaveState(ctx, e.checkpoints, state); err != nil {
				return e.checkpointFailure(lastDurable, err, span)
			}
			e.logger.Error("Workflow %s failed: unknown stage '%s'", state.WorkflowID, state.CurrentStage)
			e.observer.RunFinished(state.WorkflowID, state.Status)
			span.SetStatus(codes.Error, ErrKindUnknownStage)
			return state, nil
		}

		// Delay before re-invoking a stage after a retry action.
		if state.Status == StatusRetrying && state.RetryCount > 0 {
			if err := e.waitBackoff(ctx, state.RetryCount); err != nil {
				// Cancelled while waiting; loop back to the cancellation
				// check so the cancelled flag is checkpointed.
				continue
			}
		}

		stage := state.CurrentStage
		started := time.Now().UTC()
		result, payload := e.invokeStage(ctx, state, entry)
		elapsed := time.Since(started)

		// History is appended unconditionally, even on error.
		state.appendHistory(stage, result.Classification, started, elapsed)
		e.observer.StageExecuted(state.WorkflowID, stage, result.Classification, elapsed)

		// The stage's working payload replaces the workflow payload only on
		// success; a failed invocation leaves no partial artifacts behind.
		if result.Classification == ClassificationOK {
			state.Payload = payload
		}

		action := Decide(stage, result, state.RetryCount, state.MaxRetries, e.topology)
		e.logger.Debug("Workflow %s stage %s: %s -> %s",
			state.WorkflowID, stage, result.Classification, action.Type)

		exit := e.applyAction(state, stage, action)

		if err := SaveState(ctx, e.checkpoints, state); err != nil {
			return e.checkpointFailure(lastDurable, err, span)
		}
		lastDurable = state.Clone()

		if !exit {
			continue
		}

		e.observer.RunFinished(state.WorkflowID, state.Status)
		switch state.Status {
		case StatusPausedForReview:
			e.logger.Info("Workflow %s paused for review at stage %s: %s",
				state.WorkflowID, state.CurrentStage, state.PendingReason)
		case StatusCompleted:
			e.logger.Info("Workflow %s completed", state.WorkflowID)
		default:
			e.logger.Warn("Workflow %s terminated with status %s: %s (%s)",
				state.WorkflowID, state.Status, state.ErrorKind, state.ErrorDetail)
			span.SetStatus(codes.Error, string(state.Status))
		}
		return state, nil
	}
}

// applyAction mutates the state according to the router's verdict and
// reports whether the loop should exit.
func (e *Executor) applyAction(state *WorkflowState, stage string, action Action) (exit bool) {
	switch action.Type {
	case ActionProceed:
		state.PreviousStage = stage
		state.CurrentStage = action.NextStage
		state.RetryCount = 0
		state.Status = StatusProcessing
		return false

	case ActionRetry:
		state.RetryCount++
		state.Status = StatusRetrying
		return false

	case ActionPause:
		state.Status = StatusPausedForReview
		state.PendingReason = action.Reason
		state.PendingContext = action.Context
		return true

	case ActionEscalate:
		state.Status = StatusEscalated
		state.ErrorKind = action.ErrorKind
		state.ErrorDetail = action.ErrorDetail
		return true

	case ActionComplete:
		state.PreviousStage = stage
		state.Status = StatusCompleted
		return true

	case ActionFail:
		state.Status = StatusFailed
		state.ErrorKind = action.ErrorKind
		state.ErrorDetail = action.ErrorDetail
		return true
	}

	// Unknown action types fail loudly rather than being dropped.
	state.Status = StatusFailed
	state.ErrorKind = ErrKindRouterPolicyGap
	state.ErrorDetail = fmt.Sprintf("unknown action type '%s' at stage '%s'", action.Type, stage)
	return true
}

// invokeStage runs one stage invocation against a deep copy of the payload,
// bounded by the stage's timeout. A panic escaping the stage is caught and
// classified as a fatal error; it never crosses the executor boundary.
func (e *Executor) invokeStage(ctx context.Context, state *WorkflowState, entry stageEntry) (result StageResult, payload map[string]any) {
	timeout := entry.timeout
	if timeout <= 0 {
		timeout = e.stageTimeout
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stageCtx, span := e.tracer.Start(stageCtx, "invopipe.stage."+state.CurrentStage, trace.WithAttributes(
		attribute.String("invopipe.workflow_id", state.WorkflowID),
		attribute.String("invopipe.stage", state.CurrentStage),
		attribute.Int("invopipe.attempt", state.RetryCount),
	))
	defer span.End()

	sc := &StageContext{
		GoContext:  stageCtx,
		WorkflowID: state.WorkflowID,
		SubjectID:  state.SubjectID,
		Stage:      state.CurrentStage,
		Attempt:    state.RetryCount,
		Payload:    clonePayload(state.Payload),
		Logger:     e.logger,
	}
	if sc.Payload == nil {
		sc.Payload = make(map[string]any)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				result = FatalError(fmt.Errorf("stage '%s' panicked: %v", sc.Stage, r))
			}
		}()
		result = entry.fn(sc)
	}()

	// Ambiguous classifications are treated as fatal rather than guessed at.
	switch result.Classification {
	case ClassificationOK, ClassificationValidationFailed,
		ClassificationTransientError, ClassificationFatalError:
	default:
		result = FatalError(fmt.Errorf("stage '%s' returned unknown classification '%s'",
			sc.Stage, result.Classification))
	}

	span.SetAttributes(attribute.String("invopipe.classification", string(result.Classification)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, string(result.Classification))
	}

	return result, sc.Payload
}

// waitBackoff sleeps for the retry delay, returning early if the context is
// cancelled.
func (e *Executor) waitBackoff(ctx context.Context, attempt int) error {
	delay := e.backoff.Delay(attempt)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkpointFailure handles a durability failure: the in-memory transition
// is rolled back to the last durably checkpointed state and the run
// terminates as failed. A best-effort write of the failed marker is
// attempted, but the returned error stands regardless.
func (e *Executor) checkpointFailure(lastDurable *WorkflowState, saveErr error, span trace.Span) (*WorkflowState, error) {
	failed := lastDurable.Clone()
	failed.Status = StatusFailed
	failed.ErrorKind = ErrKindCheckpointWrite
	failed.ErrorDetail = saveErr.Error()

	// Best effort only: the store already failed once.
	_ = SaveState(context.Background(), e.checkpoints, failed)

	e.logger.Error("Workflow %s failed: %v", failed.WorkflowID, saveErr)
	e.observer.RunFinished(failed.WorkflowID, failed.Status)
	span.RecordError(saveErr)
	span.SetStatus(codes.Error, ErrKindCheckpointWrite)

	return failed, saveErr
}

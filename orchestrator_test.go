package invopipe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invopipe/invopipe/store"
)

// pausingStage pauses for review on its first invocation and succeeds on any
// later one, so tests can exercise the pause/resume round trip.
func pausingStage(reason string) StageFunc {
	first := true
	return func(sc *StageContext) StageResult {
		if first {
			first = false
			r := OK()
			r.Decision = DecisionNeedsReview
			r.PauseReason = reason
			r.PauseContext = map[string]any{"stage": sc.Stage}
			return r
		}
		return OK()
	}
}

func newTestOrchestrator(t *testing.T, registry *StageRegistry, topo *Topology) (*Orchestrator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	o, err := NewOrchestrator(registry, mem, topo,
		WithOrchestratorLogger(&TestLogger{t}),
		WithExecutorOptions(WithBackoff(NoBackoff{})),
	)
	require.NoError(t, err)
	return o, mem
}

func TestOrchestratorStartRunsToCompletion(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", okStage()).
		Register("second", okStage()).
		Build()
	o, mem := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-42", map[string]any{"document_ref": "s3://inv-42"}, 3)
	require.NoError(t, err)

	assert.NotEmpty(t, state.WorkflowID)
	assert.Equal(t, "inv-42", state.SubjectID)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Len(t, state.History, 2)

	persisted, found, err := LoadState(context.Background(), mem, state.WorkflowID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, persisted.Status)
}

func TestOrchestratorStartRejectsEmptySubject(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", okStage()).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	_, err := o.Start(context.Background(), "", nil, 3)
	assert.Error(t, err)
}

func TestOrchestratorStartAppliesDefaultMaxRetries(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", okStage()).
		Register("second", okStage()).
		Build()
	mem := store.NewMemory()
	o, err := NewOrchestrator(registry, mem, topo,
		WithOrchestratorLogger(&TestLogger{t}),
		WithDefaultMaxRetries(7),
	)
	require.NoError(t, err)

	state, err := o.Start(context.Background(), "inv-1", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, state.MaxRetries)
}

func TestNewOrchestratorRejectsIncompleteRegistry(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().Register("first", okStage()).Build()

	_, err := NewOrchestrator(registry, store.NewMemory(), topo)
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestOrchestratorResumeApprove(t *testing.T) {
	topo := twoStageTopology(t)
	secondRan := false
	registry := NewRegistryBuilder().
		Register("first", pausingStage("low_confidence")).
		Register("second", func(sc *StageContext) StageResult {
			secondRan = true
			return OK()
		}).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusPausedForReview, state.Status)
	assert.Equal(t, "low_confidence", state.PendingReason)
	assert.Equal(t, "first", state.PendingContext["stage"])

	resumed, err := o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.True(t, secondRan)
	assert.Empty(t, resumed.PendingReason)
	assert.Nil(t, resumed.PendingContext)
}

func TestOrchestratorResumeReject(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", pausingStage("suspicious_vendor")).
		Register("second", okStage()).
		Build()
	o, mem := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusPausedForReview, state.Status)

	resumed, err := o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewReject,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, resumed.Status)
	assert.Equal(t, ErrKindReviewRejected, resumed.ErrorKind)

	persisted, found, err := LoadState(context.Background(), mem, state.WorkflowID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusFailed, persisted.Status)
}

func TestOrchestratorResumeEscalate(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", pausingStage("amount_mismatch")).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)

	resumed, err := o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewEscalate,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusEscalated, resumed.Status)
	assert.Equal(t, ErrKindReviewEscalation, resumed.ErrorKind)
}

func TestOrchestratorResumeWithCorrectedInput(t *testing.T) {
	// The paused stage re-evaluates corrected input with a fresh retry
	// budget and can now succeed.
	topo := twoStageTopology(t)
	var sawCorrection any
	registry := NewRegistryBuilder().
		Register("first", func(sc *StageContext) StageResult {
			if v, ok := sc.Payload["corrected_total"]; ok {
				sawCorrection = v
				return OK()
			}
			return ValidationFailed(errors.New("total missing"), false)
		}).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusPausedForReview, state.Status)

	resumed, err := o.Resume(context.Background(), state.WorkflowID, map[string]any{
		"corrected_total": 129.95,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, 129.95, sawCorrection)
}

func TestOrchestratorResumeApproveAtTerminalStage(t *testing.T) {
	topo, err := NewTopology("single", []string{"only"})
	require.NoError(t, err)
	registry := NewRegistryBuilder().
		Register("only", pausingStage("needs_signoff")).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusPausedForReview, state.Status)

	resumed, err := o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
}

func TestOrchestratorResumeRejectsNonPausedWorkflow(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", okStage()).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, state.Status)

	_, err = o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestOrchestratorResumeRejectsUnknownWorkflow(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", okStage()).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	_, err := o.Resume(context.Background(), "no-such-id", nil)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestOrchestratorResumeIsSingleShotPerPause(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", pausingStage("review_me")).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)

	_, err = o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	require.NoError(t, err)

	_, err = o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestOrchestratorGetStateIsReadOnly(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", pausingStage("hold")).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)

	got, err := o.GetState(context.Background(), state.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, StatusPausedForReview, got.Status)

	// Mutating the returned state never touches the checkpoint.
	got.Status = StatusFailed
	again, err := o.GetState(context.Background(), state.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, StatusPausedForReview, again.Status)

	_, err = o.GetState(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestOrchestratorSingleWriterPerWorkflow(t *testing.T) {
	// A second writer targeting the same workflow id while the first run is
	// still inside a stage is turned away with ErrWorkflowBusy.
	topo := twoStageTopology(t)
	entered := make(chan string, 1)
	release := make(chan struct{})
	registry := NewRegistryBuilder().
		Register("first", func(sc *StageContext) StageResult {
			entered <- sc.WorkflowID
			<-release
			r := OK()
			r.Decision = DecisionNeedsReview
			r.PauseReason = "hold"
			return r
		}).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	var wg sync.WaitGroup
	wg.Add(1)
	var startErr error
	go func() {
		defer wg.Done()
		_, startErr = o.Start(context.Background(), "inv-1", nil, 3)
	}()

	workflowID := <-entered
	_, err := o.Resume(context.Background(), workflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	assert.ErrorIs(t, err, ErrWorkflowBusy)

	close(release)
	wg.Wait()
	require.NoError(t, startErr)

	// Once the first writer released the lock the workflow is paused and a
	// resume goes through.
	resumed, err := o.Resume(context.Background(), workflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
}

func TestOrchestratorCancelRunningWorkflow(t *testing.T) {
	topo := twoStageTopology(t)
	entered := make(chan string, 1)
	registry := NewRegistryBuilder().
		Register("first", func(sc *StageContext) StageResult {
			entered <- sc.WorkflowID
			// Wait for the cancel request so the executor sees it between
			// stages.
			<-sc.GoContext.Done()
			return OK()
		}).
		Register("second", okStage()).
		Build()
	o, mem := newTestOrchestrator(t, registry, topo)

	type startResult struct {
		state *WorkflowState
		err   error
	}
	done := make(chan startResult, 1)
	go func() {
		state, err := o.Start(context.Background(), "inv-1", nil, 3)
		done <- startResult{state, err}
	}()

	workflowID := <-entered
	require.Eventually(t, func() bool {
		return o.Cancel(workflowID)
	}, 2*time.Second, 10*time.Millisecond)

	res := <-done
	require.NoError(t, res.err)
	state := res.state
	assert.True(t, state.Cancelled)
	assert.False(t, state.Terminal())

	persisted, found, err := LoadState(context.Background(), mem, workflowID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, persisted.Cancelled)
}

func TestOrchestratorRunResumesCancelledWorkflow(t *testing.T) {
	// A cancelled workflow is re-entered through the orchestrator and
	// driven to completion from its last checkpoint.
	topo := twoStageTopology(t)
	entered := make(chan string, 1)
	registry := NewRegistryBuilder().
		Register("first", func(sc *StageContext) StageResult {
			select {
			case entered <- sc.WorkflowID:
				<-sc.GoContext.Done()
			default:
			}
			return OK()
		}).
		Register("second", okStage()).
		Build()
	o, mem := newTestOrchestrator(t, registry, topo)

	type startResult struct {
		state *WorkflowState
		err   error
	}
	done := make(chan startResult, 1)
	go func() {
		state, err := o.Start(context.Background(), "inv-1", nil, 3)
		done <- startResult{state, err}
	}()

	workflowID := <-entered
	require.Eventually(t, func() bool {
		return o.Cancel(workflowID)
	}, 2*time.Second, 10*time.Millisecond)

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.state.Cancelled)
	require.False(t, res.state.Terminal())

	resumed, err := o.Run(context.Background(), workflowID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.False(t, resumed.Cancelled)

	persisted, found, err := LoadState(context.Background(), mem, workflowID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, persisted.Status)
	assert.False(t, persisted.Cancelled)
}

func TestOrchestratorRunRejectsTerminalAndPaused(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", pausingStage("hold")).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	_, err := o.Run(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	state, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusPausedForReview, state.Status)

	_, err = o.Run(context.Background(), state.WorkflowID)
	assert.ErrorContains(t, err, "paused for review")

	resumed, err := o.Resume(context.Background(), state.WorkflowID, map[string]any{
		DecisionKeyAction: ReviewApprove,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, resumed.Status)

	_, err = o.Run(context.Background(), state.WorkflowID)
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestOrchestratorCancelUnknownWorkflowIsNoop(t *testing.T) {
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", okStage()).
		Register("second", okStage()).
		Build()
	o, _ := newTestOrchestrator(t, registry, topo)

	assert.False(t, o.Cancel("no-such-id"))
}

func TestOrchestratorCheckpointResumeEquivalence(t *testing.T) {
	// A workflow resumed from its checkpoint behaves exactly as one that was
	// never interrupted: same terminal status, same payload, history extended
	// rather than rewritten.
	topo := twoStageTopology(t)
	registry := NewRegistryBuilder().
		Register("first", func(sc *StageContext) StageResult {
			sc.Payload["fields"] = map[string]any{"vendor": "acme"}
			return OK()
		}).
		Register("second", func(sc *StageContext) StageResult {
			sc.Payload["export_ref"] = "exp-1"
			return OK()
		}).
		Build()
	o, mem := newTestOrchestrator(t, registry, topo)

	uninterrupted, err := o.Start(context.Background(), "inv-1", nil, 3)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, uninterrupted.Status)

	// Simulate a crash after the first stage: craft the intermediate
	// checkpoint a real run would have written and drive it to completion.
	mid := NewWorkflowState("wf-crash", "inv-2", "second", map[string]any{
		"fields": map[string]any{"vendor": "acme"},
	}, 3)
	mid.PreviousStage = "first"
	mid.appendHistory("first", ClassificationOK, time.Now().UTC(), time.Millisecond)
	require.NoError(t, SaveState(context.Background(), mem, mid))

	exec := NewExecutor(registry, mem, topo, WithLogger(&TestLogger{t}), WithBackoff(NoBackoff{}))
	recovered, err := exec.Run(context.Background(), mid)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, recovered.Status)
	assert.Equal(t, uninterrupted.Payload["export_ref"], recovered.Payload["export_ref"])
	assert.Len(t, recovered.History, len(uninterrupted.History))
	assert.Equal(t, "first", recovered.History[0].Stage)
	assert.Equal(t, "second", recovered.History[1].Stage)
}

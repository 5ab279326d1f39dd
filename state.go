package invopipe

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusProcessing means the workflow is actively executing stages.
	StatusProcessing Status = "processing"
	// StatusPausedForReview means the workflow is suspended waiting for a
	// human decision supplied via Resume.
	StatusPausedForReview Status = "paused_for_review"
	// StatusRetrying means the workflow is re-invoking the current stage.
	StatusRetrying Status = "retrying"
	// StatusEscalated is terminal: the workflow was routed to a
	// non-automated handling path.
	StatusEscalated Status = "escalated"
	// StatusCompleted is terminal: every stage finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: the workflow stopped with an error.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status allows no further stage execution.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusEscalated
}

// Classification is the outcome category a stage reports to the router.
type Classification string

const (
	// ClassificationOK means the stage produced its artifact successfully.
	ClassificationOK Classification = "ok"
	// ClassificationValidationFailed means a business rule rejected the
	// stage's input; recoverable by retry or human decision.
	ClassificationValidationFailed Classification = "validation_failed"
	// ClassificationTransientError means an infrastructure or dependency
	// hiccup; recoverable by retry, escalates once the budget is spent.
	ClassificationTransientError Classification = "transient_error"
	// ClassificationFatalError means a contract violation or unclassifiable
	// stage fault; never retried.
	ClassificationFatalError Classification = "fatal_error"
)

// Decision is the routing sub-decision a triage stage attaches to an ok
// outcome.
type Decision string

const (
	// DecisionAutoApprove routes directly to the next stage.
	DecisionAutoApprove Decision = "auto_approve"
	// DecisionNeedsReview pauses the workflow for a human decision.
	DecisionNeedsReview Decision = "needs_review"
	// DecisionNeedsEscalation terminates the workflow as escalated.
	DecisionNeedsEscalation Decision = "needs_escalation"
)

// Error kinds recorded on terminal states for operator diagnosis.
const (
	ErrKindUnknownStage     = "unknown_stage"
	ErrKindCheckpointWrite  = "checkpoint_write_failed"
	ErrKindRouterPolicyGap  = "router_policy_gap"
	ErrKindNotResumable     = "not_resumable"
	ErrKindTransient        = "transient_error"
	ErrKindFatal            = "fatal_error"
	ErrKindValidation       = "validation_failed"
	ErrKindReviewRejected   = "review_rejected"
	ErrKindReviewEscalation = "review_escalated"
)

// HistoryEntry records one stage invocation. History is append-only and
// strictly ordered by actual execution order.
type HistoryEntry struct {
	Stage     string         `json:"stage"`
	Outcome   Classification `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
}

// WorkflowState is the durable unit of state for one pipeline run. It is the
// single self-contained checkpoint record per workflow id.
//
// Orchestrator-owned fields are typed; only Payload is a generic key-value
// map, so stages cannot corrupt orchestrator invariants. Stages read and
// write their own payload keys only.
type WorkflowState struct {
	// WorkflowID is assigned once at creation and never changes.
	WorkflowID string `json:"workflow_id"`
	// SubjectID identifies the business entity being processed, e.g. an
	// invoice id.
	SubjectID string `json:"subject_id"`

	CurrentStage  string `json:"current_stage"`
	PreviousStage string `json:"previous_stage,omitempty"`
	Status        Status `json:"status"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Payload holds stage-produced artifacts, opaque to the orchestrator.
	// Values must be JSON-serializable.
	Payload map[string]any `json:"payload"`

	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	// PendingReason and PendingContext are present only while the status is
	// paused_for_review.
	PendingReason  string         `json:"pending_reason,omitempty"`
	PendingContext map[string]any `json:"pending_context,omitempty"`

	// Cancelled is set when a caller requested cooperative cancellation and
	// the executor stopped between stages.
	Cancelled bool `json:"cancelled,omitempty"`

	History []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates the initial state for a new run, positioned at the
// given initial stage with status processing.
func NewWorkflowState(workflowID, subjectID, initialStage string, payload map[string]any, maxRetries int) *WorkflowState {
	if payload == nil {
		payload = make(map[string]any)
	}
	now := time.Now().UTC()
	return &WorkflowState{
		WorkflowID:   workflowID,
		SubjectID:    subjectID,
		CurrentStage: initialStage,
		Status:       StatusProcessing,
		MaxRetries:   maxRetries,
		Payload:      payload,
		History:      []HistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Terminal reports whether the workflow reached a terminal status.
func (s *WorkflowState) Terminal() bool {
	return s.Status.Terminal()
}

// Clone returns a deep copy of the state. Payload, pending context, and
// history are copied so that mutating the clone never affects the original.
func (s *WorkflowState) Clone() *WorkflowState {
	c := *s
	c.Payload = clonePayload(s.Payload)
	c.PendingContext = clonePayload(s.PendingContext)
	c.History = make([]HistoryEntry, len(s.History))
	copy(c.History, s.History)
	return &c
}

// appendHistory records a stage invocation. No prior entry is ever rewritten.
func (s *WorkflowState) appendHistory(stage string, outcome Classification, at time.Time, d time.Duration) {
	s.History = append(s.History, HistoryEntry{
		Stage:     stage,
		Outcome:   outcome,
		Timestamp: at,
		Duration:  d,
	})
}

// FormatHistory returns a human-readable summary of the stage history for
// operator inspection.
func (s *WorkflowState) FormatHistory() string {
	if len(s.History) == 0 {
		return "No stages executed"
	}

	var summary string
	okCount := 0

	for i, entry := range s.History {
		if entry.Outcome == ClassificationOK {
			okCount++
		}
		summary += fmt.Sprintf("Step %d: %s - %s (%s)\n",
			i+1,
			entry.Stage,
			entry.Outcome,
			entry.Duration.Round(time.Millisecond),
		)
	}

	summary += fmt.Sprintf("Summary: %d/%d invocations succeeded, status %s",
		okCount, len(s.History), s.Status)
	return summary
}

// clonePayload deep-copies the nested map/slice structure of a payload.
// Scalar values are shared, which is safe because payload values are
// JSON-typed and scalars are immutable.
func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

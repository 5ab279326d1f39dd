package invopipe

import "fmt"

// ActionType identifies what the executor should do after a stage completes.
type ActionType string

const (
	// ActionProceed advances to the next stage and resets the retry count.
	ActionProceed ActionType = "proceed"
	// ActionRetry re-invokes the current stage and increments the retry
	// count.
	ActionRetry ActionType = "retry"
	// ActionEscalate terminates the run as escalated.
	ActionEscalate ActionType = "escalate"
	// ActionPause suspends the run for human review. This is the only
	// legitimate suspension point in the model.
	ActionPause ActionType = "pause"
	// ActionComplete terminates the run as completed.
	ActionComplete ActionType = "complete"
	// ActionFail terminates the run as failed.
	ActionFail ActionType = "fail"
)

// Action is the router's verdict after one stage invocation.
type Action struct {
	Type ActionType

	// NextStage is set for proceed actions.
	NextStage string

	// Reason and Context describe the prompt for pause actions.
	Reason  string
	Context map[string]any

	// ErrorKind and ErrorDetail are set for escalate and fail actions.
	ErrorKind   string
	ErrorDetail string
}

// Decide is the pure transition policy: given the just-completed stage, its
// result, and the current retry counters, it returns the next action. It
// performs no I/O and never mutates its inputs.
//
// The policy table, evaluated in order:
//  1. ok with a triage sub-decision → proceed, pause, or escalate per the
//     decision
//  2. ok → proceed to the topology successor; the terminal stage's successor
//     is completion
//  3. validation_failed → retry while budget remains and the failure is
//     auto-resolvable, otherwise pause for review
//  4. transient_error → retry while budget remains, otherwise escalate
//  5. fatal_error → escalate unconditionally
//  6. anything else → fail with router_policy_gap, never silently dropped
func Decide(stage string, result StageResult, retryCount, maxRetries int, topology *Topology) Action {
	switch result.Classification {
	case ClassificationOK:
		if result.Decision != "" {
			return decideTriage(stage, result, topology)
		}
		return proceedAction(stage, topology)

	case ClassificationValidationFailed:
		if retryCount < maxRetries && result.AutoResolvable {
			return Action{Type: ActionRetry}
		}
		return Action{
			Type:    ActionPause,
			Reason:  ErrKindValidation,
			Context: pauseContext(result),
		}

	case ClassificationTransientError:
		if retryCount < maxRetries {
			return Action{Type: ActionRetry}
		}
		return Action{
			Type:        ActionEscalate,
			ErrorKind:   ErrKindTransient,
			ErrorDetail: errDetail(result, fmt.Sprintf("retry budget exhausted after %d attempts at stage '%s'", retryCount+1, stage)),
		}

	case ClassificationFatalError:
		return Action{
			Type:        ActionEscalate,
			ErrorKind:   ErrKindFatal,
			ErrorDetail: errDetail(result, fmt.Sprintf("fatal fault at stage '%s'", stage)),
		}
	}

	// A classification outside the taxonomy means the policy table has a
	// gap. Fail loudly, never drop it.
	return Action{
		Type:        ActionFail,
		ErrorKind:   ErrKindRouterPolicyGap,
		ErrorDetail: fmt.Sprintf("no policy for classification '%s' at stage '%s'", result.Classification, stage),
	}
}

// decideTriage maps a triage stage's routing sub-decision onto an action.
// The triage stage computes the decision itself from validation results and
// confidence score; the router only translates it.
func decideTriage(stage string, result StageResult, topology *Topology) Action {
	switch result.Decision {
	case DecisionAutoApprove:
		return proceedAction(stage, topology)
	case DecisionNeedsReview:
		reason := result.PauseReason
		if reason == "" {
			reason = string(DecisionNeedsReview)
		}
		return Action{
			Type:    ActionPause,
			Reason:  reason,
			Context: pauseContext(result),
		}
	case DecisionNeedsEscalation:
		return Action{
			Type:        ActionEscalate,
			ErrorKind:   string(DecisionNeedsEscalation),
			ErrorDetail: errDetail(result, fmt.Sprintf("stage '%s' requested escalation", stage)),
		}
	}

	return Action{
		Type:        ActionFail,
		ErrorKind:   ErrKindRouterPolicyGap,
		ErrorDetail: fmt.Sprintf("no policy for routing decision '%s' at stage '%s'", result.Decision, stage),
	}
}

// proceedAction resolves the topology successor of a stage. Unknown stages
// fall through to the policy-gap default; a terminal stage completes.
func proceedAction(stage string, topology *Topology) Action {
	next, ok := topology.Successor(stage)
	if !ok {
		return Action{
			Type:        ActionFail,
			ErrorKind:   ErrKindRouterPolicyGap,
			ErrorDetail: fmt.Sprintf("stage '%s' is not part of topology '%s'", stage, topology.Version()),
		}
	}
	if next == "" {
		return Action{Type: ActionComplete}
	}
	return Action{Type: ActionProceed, NextStage: next}
}

// pauseContext builds the actionable context surfaced to a reviewer.
func pauseContext(result StageResult) map[string]any {
	ctx := clonePayload(result.PauseContext)
	if result.Err != nil {
		if ctx == nil {
			ctx = make(map[string]any, 1)
		}
		if _, exists := ctx["error"]; !exists {
			ctx["error"] = result.Err.Error()
		}
	}
	return ctx
}

func errDetail(result StageResult, fallback string) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return fallback
}

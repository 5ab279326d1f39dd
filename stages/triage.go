package stages

import (
	"fmt"

	"github.com/invopipe/invopipe"
)

// Triage computes the routing decision from the validation report and the
// confidence score, and attaches it to an ok outcome for the router to
// translate:
//
//   - confidence below the escalate threshold → needs_escalation
//   - confidence below the review threshold, or validation recorded
//     failures → needs_review
//   - otherwise → auto_approve
func Triage(reviewThreshold, escalateThreshold float64) invopipe.StageFunc {
	return func(sc *invopipe.StageContext) invopipe.StageResult {
		_, confidence, err := extractedFields(sc.Payload)
		if err != nil {
			return invopipe.FatalError(err)
		}

		decision := invopipe.DecisionAutoApprove
		switch {
		case confidence < escalateThreshold:
			decision = invopipe.DecisionNeedsEscalation
		case confidence < reviewThreshold || hasWarnings(sc.Payload):
			decision = invopipe.DecisionNeedsReview
		}

		sc.Payload[KeyTriageDecision] = string(decision)
		sc.Logger.Debug("Triage decision for workflow %s: %s (confidence %.2f)",
			sc.WorkflowID, decision, confidence)

		result := invopipe.OK()
		result.Decision = decision
		if decision == invopipe.DecisionNeedsReview {
			result.PauseReason = string(invopipe.DecisionNeedsReview)
			result.PauseContext = map[string]any{
				"confidence": confidence,
				"validation": sc.Payload[KeyValidation],
			}
		}
		if decision == invopipe.DecisionNeedsEscalation {
			result.Err = fmt.Errorf("confidence %.2f below escalate threshold %.2f", confidence, escalateThreshold)
		}
		return result
	}
}

// hasWarnings reports whether the stored validation report carries failures
// despite passing, e.g. rules configured as warn-only.
func hasWarnings(payload map[string]any) bool {
	report, ok := payload[KeyValidation].(map[string]any)
	if !ok {
		return false
	}
	failures, ok := report["failures"].([]any)
	return ok && len(failures) > 0
}

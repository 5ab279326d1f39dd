package stages

import (
	"fmt"

	"github.com/invopipe/invopipe"
)

// Receive validates the intake contract: the caller must have supplied a
// non-empty document reference in the initial payload. A missing reference
// is a caller contract violation, not a retryable condition.
func Receive() invopipe.StageFunc {
	return func(sc *invopipe.StageContext) invopipe.StageResult {
		ref, ok := sc.Payload[KeyDocumentRef].(string)
		if !ok || ref == "" {
			return invopipe.FatalError(fmt.Errorf("payload is missing '%s'", KeyDocumentRef))
		}

		sc.Logger.Debug("Received document %s for subject %s", ref, sc.SubjectID)
		return invopipe.OK()
	}
}

package stages

import (
	"fmt"

	"github.com/invopipe/invopipe"
)

// ConfidencePatch sends low-confidence extractions through the field
// corrector. Extractions at or above the threshold pass through untouched.
// The corrector is a pure transformation over the field map, so re-invoking
// it on retry is safe.
func ConfidencePatch(corrector FieldCorrector, threshold float64) invopipe.StageFunc {
	return func(sc *invopipe.StageContext) invopipe.StageResult {
		fields, confidence, err := extractedFields(sc.Payload)
		if err != nil {
			return invopipe.FatalError(err)
		}

		if confidence >= threshold {
			sc.Logger.Debug("Confidence %.2f meets threshold %.2f, skipping patch", confidence, threshold)
			return invopipe.OK()
		}

		patched, newConfidence, err := corrector.Correct(sc.GoContext, fields, confidence)
		if err != nil {
			return classifyCollaboratorErr(sc.GoContext, err)
		}

		sc.Payload[KeyFields] = patched
		sc.Payload[KeyConfidence] = newConfidence
		sc.Logger.Debug("Patched fields, confidence %.2f -> %.2f", confidence, newConfidence)
		return invopipe.OK()
	}
}

// extractedFields reads the parse stage's outputs from the payload.
func extractedFields(payload map[string]any) (map[string]any, float64, error) {
	fields, ok := payload[KeyFields].(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("payload is missing '%s'", KeyFields)
	}

	confidence, ok := payload[KeyConfidence].(float64)
	if !ok {
		return nil, 0, fmt.Errorf("payload is missing '%s'", KeyConfidence)
	}

	return fields, confidence, nil
}

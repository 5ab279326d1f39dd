package stages

import (
	"fmt"

	"github.com/invopipe/invopipe"
)

// Parse runs the document through the parsing engine and stores the
// extracted fields plus the confidence score. Parsing is read-only against
// the source document, so retries are naturally idempotent.
func Parse(parser DocumentParser) invopipe.StageFunc {
	return func(sc *invopipe.StageContext) invopipe.StageResult {
		ref, ok := sc.Payload[KeyDocumentRef].(string)
		if !ok || ref == "" {
			return invopipe.FatalError(fmt.Errorf("payload is missing '%s'", KeyDocumentRef))
		}

		fields, confidence, err := parser.Parse(sc.GoContext, ref)
		if err != nil {
			return classifyCollaboratorErr(sc.GoContext, err)
		}

		sc.Payload[KeyFields] = fields
		sc.Payload[KeyConfidence] = confidence
		sc.Logger.Debug("Parsed document %s with confidence %.2f", ref, confidence)
		return invopipe.OK()
	}
}

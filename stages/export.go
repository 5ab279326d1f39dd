package stages

import (
	"fmt"

	"github.com/invopipe/invopipe"
)

// Export renders and delivers the final record through the exporter. The
// exporter contract requires idempotence per workflow id, so a retry after a
// transient delivery failure cannot double-write.
func Export(exporter Exporter) invopipe.StageFunc {
	return func(sc *invopipe.StageContext) invopipe.StageResult {
		fields, _, err := extractedFields(sc.Payload)
		if err != nil {
			return invopipe.FatalError(err)
		}

		exportRef, err := exporter.Export(sc.GoContext, sc.WorkflowID, fields)
		if err != nil {
			return classifyCollaboratorErr(sc.GoContext, err)
		}
		if exportRef == "" {
			return invopipe.FatalError(fmt.Errorf("exporter returned an empty export ref"))
		}

		sc.Payload[KeyExportRef] = exportRef
		sc.Logger.Info("Exported workflow %s as %s", sc.WorkflowID, exportRef)
		return invopipe.OK()
	}
}

package stages

import (
	"errors"
	"fmt"

	"github.com/invopipe/invopipe"
)

// Validate evaluates business rules over the extracted fields and stores the
// report. A failed report classifies as validation_failed; the report's
// AutoResolvable flag tells the router whether a retry may fix it. Rule
// engine faults (as opposed to rule rejections) classify as transient.
func Validate(validator RuleValidator) invopipe.StageFunc {
	return func(sc *invopipe.StageContext) invopipe.StageResult {
		fields, _, err := extractedFields(sc.Payload)
		if err != nil {
			return invopipe.FatalError(err)
		}

		report, err := validator.Validate(sc.GoContext, fields)
		if err != nil {
			return classifyCollaboratorErr(sc.GoContext, err)
		}
		if report == nil {
			return invopipe.FatalError(errors.New("rule validator returned a nil report"))
		}

		if !report.Passed {
			result := invopipe.ValidationFailed(
				fmt.Errorf("%d rule(s) failed", len(report.Failures)),
				report.AutoResolvable,
			)
			result.PauseContext = reportContext(report)
			return result
		}

		// The report is stored only on success; failure reports travel in
		// the pause context so the reviewer sees them without the payload
		// carrying partial artifacts.
		sc.Payload[KeyValidation] = reportContext(report)
		return invopipe.OK()
	}
}

// reportContext flattens a report into the JSON-typed map shape payloads and
// pause contexts use.
func reportContext(report *ValidationReport) map[string]any {
	failures := make([]any, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, map[string]any{
			"rule":    f.Rule,
			"field":   f.Field,
			"message": f.Message,
		})
	}
	return map[string]any{
		"passed":          report.Passed,
		"auto_resolvable": report.AutoResolvable,
		"failures":        failures,
	}
}

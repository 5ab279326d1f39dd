// Package stages provides the built-in invoice pipeline stages:
// receive, parse, confidence_patch, validate, triage, and export.
//
// The heavy lifting (document parsing, LLM field correction, business rule
// evaluation, export rendering) lives behind small collaborator interfaces;
// each stage adapts one collaborator to the uniform stage contract: it
// classifies the collaborator's faults, honors the stage timeout, and keeps
// retries idempotent.
package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/invopipe/invopipe"
)

// Payload keys owned by the built-in stages. Each stage reads and writes
// only its declared keys.
const (
	// KeyDocumentRef is the caller-supplied reference to the raw document.
	KeyDocumentRef = "document_ref"
	// KeyFields holds the extracted field map.
	KeyFields = "fields"
	// KeyConfidence holds the extraction confidence score in [0, 1].
	KeyConfidence = "confidence"
	// KeyValidation holds the validation report.
	KeyValidation = "validation"
	// KeyTriageDecision holds the routing decision the triage stage took.
	KeyTriageDecision = "triage_decision"
	// KeyExportRef holds the reference to the exported record.
	KeyExportRef = "export_ref"
)

// DocumentParser extracts a field map and a confidence score from a raw
// document.
type DocumentParser interface {
	Parse(ctx context.Context, documentRef string) (fields map[string]any, confidence float64, err error)
}

// FieldCorrector patches low-confidence extractions, typically via an LLM.
type FieldCorrector interface {
	Correct(ctx context.Context, fields map[string]any, confidence float64) (map[string]any, float64, error)
}

// RuleValidator evaluates business rules over an extracted field map.
type RuleValidator interface {
	Validate(ctx context.Context, fields map[string]any) (*ValidationReport, error)
}

// Exporter renders and delivers the final record. Implementations must be
// idempotent per workflow id: exporting the same workflow twice must not
// produce duplicate external writes.
type Exporter interface {
	Export(ctx context.Context, workflowID string, fields map[string]any) (exportRef string, err error)
}

// ValidationReport is the outcome of a rule evaluation.
type ValidationReport struct {
	Passed bool `json:"passed"`
	// AutoResolvable marks failures a retry can fix without human input,
	// e.g. a rule backed by reference data that refreshes periodically.
	AutoResolvable bool          `json:"auto_resolvable"`
	Failures       []RuleFailure `json:"failures,omitempty"`
}

// RuleFailure describes a single failed rule.
type RuleFailure struct {
	Rule    string `json:"rule"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Config assembles the collaborators and thresholds for the built-in stage
// set.
type Config struct {
	Parser    DocumentParser
	Corrector FieldCorrector
	Validator RuleValidator
	Exporter  Exporter

	// PatchThreshold: extractions below this confidence go through the
	// corrector. Defaults to 0.9.
	PatchThreshold float64
	// ReviewThreshold: triage pauses for review below this confidence.
	// Defaults to 0.75.
	ReviewThreshold float64
	// EscalateThreshold: triage escalates below this confidence.
	// Defaults to 0.4.
	EscalateThreshold float64

	// StageTimeout bounds each stage invocation. Zero keeps the executor
	// default.
	StageTimeout time.Duration
}

func (c *Config) defaults() {
	if c.PatchThreshold <= 0 {
		c.PatchThreshold = 0.9
	}
	if c.ReviewThreshold <= 0 {
		c.ReviewThreshold = 0.75
	}
	if c.EscalateThreshold <= 0 {
		c.EscalateThreshold = 0.4
	}
}

// Register adds all built-in stages to the builder under the default
// topology's stage names.
func Register(b *invopipe.RegistryBuilder, cfg Config) *invopipe.RegistryBuilder {
	cfg.defaults()

	var opts []invopipe.StageOption
	if cfg.StageTimeout > 0 {
		opts = append(opts, invopipe.WithStageTimeout(cfg.StageTimeout))
	}

	b.Register(invopipe.StageReceive, Receive(), opts...)
	b.Register(invopipe.StageParse, Parse(cfg.Parser), opts...)
	b.Register(invopipe.StageConfidencePatch, ConfidencePatch(cfg.Corrector, cfg.PatchThreshold), opts...)
	b.Register(invopipe.StageValidate, Validate(cfg.Validator), opts...)
	b.Register(invopipe.StageTriage, Triage(cfg.ReviewThreshold, cfg.EscalateThreshold), opts...)
	b.Register(invopipe.StageExport, Export(cfg.Exporter), opts...)
	return b
}

// classifyCollaboratorErr maps a collaborator error onto the stage taxonomy.
// Timeouts and cancellations are transient; everything else is the caller's
// choice, defaulting to transient for infrastructure-style faults.
func classifyCollaboratorErr(ctx context.Context, err error) invopipe.StageResult {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return invopipe.TransientError(fmt.Errorf("timed out: %w", err))
	}
	return invopipe.TransientError(err)
}

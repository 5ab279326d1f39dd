package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopipe/invopipe/stages"
)

// The local collaborator set processes invoice documents stored as JSON
// files on disk. A document looks like:
//
//	{"confidence": 0.82, "fields": {"vendor": "acme", "total": 129.95, ...}}
//
// It stands in for an OCR or extraction service in single-node deployments
// and demos.

// localParser reads a JSON invoice document from disk.
type localParser struct{}

func (localParser) Parse(_ context.Context, documentRef string) (map[string]any, float64, error) {
	data, err := os.ReadFile(documentRef)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read document: %w", err)
	}

	var doc struct {
		Confidence float64        `json:"confidence"`
		Fields     map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	return doc.Fields, doc.Confidence, nil
}

// localCorrector normalizes obvious extraction noise: it trims whitespace on
// string fields and nudges confidence up to reflect the cleanup. It is a
// pure transformation, so retries are safe.
type localCorrector struct{}

func (localCorrector) Correct(_ context.Context, fields map[string]any, confidence float64) (map[string]any, float64, error) {
	patched := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			patched[k] = strings.TrimSpace(s)
			continue
		}
		patched[k] = v
	}

	confidence += 0.1
	if confidence > 1 {
		confidence = 1
	}
	return patched, confidence, nil
}

// localValidator evaluates the built-in rule set: vendor present, total
// present and positive, currency is a known code when present.
type localValidator struct{}

var knownCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "CHF": true,
}

func (localValidator) Validate(_ context.Context, fields map[string]any) (*stages.ValidationReport, error) {
	var failures []stages.RuleFailure

	vendor, _ := fields["vendor"].(string)
	if vendor == "" {
		failures = append(failures, stages.RuleFailure{
			Rule:    "vendor_present",
			Field:   "vendor",
			Message: "vendor name is missing",
		})
	}

	total, ok := fields["total"].(float64)
	if !ok {
		failures = append(failures, stages.RuleFailure{
			Rule:    "total_present",
			Field:   "total",
			Message: "total amount is missing",
		})
	} else if total <= 0 {
		failures = append(failures, stages.RuleFailure{
			Rule:    "total_positive",
			Field:   "total",
			Message: fmt.Sprintf("total must be positive, got %.2f", total),
		})
	}

	if currency, ok := fields["currency"].(string); ok && !knownCurrencies[currency] {
		failures = append(failures, stages.RuleFailure{
			Rule:    "currency_known",
			Field:   "currency",
			Message: fmt.Sprintf("unknown currency code '%s'", currency),
		})
	}

	return &stages.ValidationReport{
		Passed:   len(failures) == 0,
		Failures: failures,
	}, nil
}

// localExporter writes the final record as a JSON file named after the
// workflow id. The name makes retries idempotent: re-exporting the same
// workflow overwrites the same file.
type localExporter struct {
	dir string
}

func (e localExporter) Export(_ context.Context, workflowID string, fields map[string]any) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	path := filepath.Join(e.dir, workflowID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write record: %w", err)
	}
	return path, nil
}

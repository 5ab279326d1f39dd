package invopipe

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// StageContext carries everything a stage function may use during one
// invocation. The payload is a deep copy of the workflow payload; the
// executor merges it back only after the stage returns, so a stage can never
// corrupt orchestrator-owned fields mid-flight.
type StageContext struct {
	// GoContext is the underlying context.Context, carrying the stage's
	// timeout budget. Stages must honor it and report a transient error on
	// timeout rather than hang the executor.
	GoContext context.Context

	// WorkflowID identifies the run. Stages performing non-idempotent
	// external effects should deduplicate keyed by WorkflowID plus Stage.
	WorkflowID string
	// SubjectID identifies the business entity being processed.
	SubjectID string
	// Stage is the name the stage was registered under.
	Stage string
	// Attempt is the current retry count: 0 on the first invocation.
	Attempt int

	// Payload is the stage's working copy of the workflow payload. A stage
	// reads its declared input keys and writes its declared output keys.
	Payload map[string]any

	// Logger for stage output.
	Logger Logger
}

// StageResult is the uniform outcome contract every stage returns. A stage
// must classify its own faults; it never panics or returns classifications
// outside the taxonomy. Ambiguous results are treated as fatal by the
// executor.
type StageResult struct {
	// Classification categorizes the outcome for the router.
	Classification Classification

	// Decision is the optional routing sub-decision attached to an ok
	// outcome by a triage stage.
	Decision Decision

	// AutoResolvable marks a validation failure that a retry can resolve
	// without human input.
	AutoResolvable bool

	// PauseReason and PauseContext describe the actionable prompt surfaced
	// to a human reviewer when the router pauses the workflow.
	PauseReason  string
	PauseContext map[string]any

	// Err carries diagnostic detail for non-ok classifications.
	Err error
}

// OK returns a successful stage result.
func OK() StageResult {
	return StageResult{Classification: ClassificationOK}
}

// ValidationFailed returns a validation failure. autoResolvable marks
// failures that a retry can resolve without human input.
func ValidationFailed(err error, autoResolvable bool) StageResult {
	return StageResult{
		Classification: ClassificationValidationFailed,
		AutoResolvable: autoResolvable,
		Err:            err,
	}
}

// TransientError returns an infrastructure failure eligible for retry.
func TransientError(err error) StageResult {
	return StageResult{Classification: ClassificationTransientError, Err: err}
}

// FatalError returns a non-retryable stage fault.
func FatalError(err error) StageResult {
	return StageResult{Classification: ClassificationFatalError, Err: err}
}

// StageFunc is the uniform stage contract: it receives the stage context and
// returns an updated payload (by mutating ctx.Payload) plus an outcome
// signal.
type StageFunc func(sc *StageContext) StageResult

// stageEntry holds a registered stage and its per-stage options.
type stageEntry struct {
	fn      StageFunc
	timeout time.Duration
}

// StageOption configures a registered stage.
type StageOption func(*stageEntry)

// WithStageTimeout sets the timeout budget for one invocation of the stage.
// Zero means the executor's default stage timeout applies.
func WithStageTimeout(d time.Duration) StageOption {
	return func(e *stageEntry) {
		e.timeout = d
	}
}

// StageRegistry is an immutable mapping from stage name to stage function.
// It is built once at startup through a RegistryBuilder and passed explicitly
// to the executor.
type StageRegistry struct {
	stages map[string]stageEntry
}

// RegistryBuilder accumulates stage registrations before the registry is
// sealed with Build.
type RegistryBuilder struct {
	stages map[string]stageEntry
}

// NewRegistryBuilder creates an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{stages: make(map[string]stageEntry)}
}

// Register adds a stage under a unique name. This should be called at
// application startup for every stage the topology references.
// It will panic if a stage with the same name is already registered.
func (b *RegistryBuilder) Register(name string, fn StageFunc, opts ...StageOption) *RegistryBuilder {
	if name == "" {
		panic("stage name cannot be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("stage '%s' registered with a nil function", name))
	}
	if _, exists := b.stages[name]; exists {
		panic(fmt.Sprintf("stage with name '%s' is already registered", name))
	}

	entry := stageEntry{fn: fn}
	for _, opt := range opts {
		opt(&entry)
	}
	b.stages[name] = entry
	return b
}

// Build seals the builder into an immutable registry. The builder can keep
// registering stages afterwards without affecting the built registry.
func (b *RegistryBuilder) Build() *StageRegistry {
	stages := make(map[string]stageEntry, len(b.stages))
	for name, entry := range b.stages {
		stages[name] = entry
	}
	return &StageRegistry{stages: stages}
}

// Has reports whether a stage is registered under the given name.
func (r *StageRegistry) Has(name string) bool {
	_, ok := r.stages[name]
	return ok
}

// lookup returns the registered stage entry for a name.
func (r *StageRegistry) lookup(name string) (stageEntry, bool) {
	e, ok := r.stages[name]
	return e, ok
}

// Names returns the sorted names of all registered stages.
func (r *StageRegistry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

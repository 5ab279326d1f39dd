package invopipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default stage names for the invoice pipeline.
const (
	StageReceive         = "receive"
	StageParse           = "parse"
	StageConfidencePatch = "confidence_patch"
	StageValidate        = "validate"
	StageTriage          = "triage"
	StageExport          = "export"
)

// Topology is the static, versioned stage-adjacency table. It lists stage
// order and legal successors; changing the pipeline shape never requires
// changing executor or router code.
type Topology struct {
	version    string
	stages     []string
	successors map[string]string
}

// topologyFile is the on-disk YAML representation of a topology.
type topologyFile struct {
	Version string   `yaml:"version"`
	Stages  []string `yaml:"stages"`
}

// NewTopology builds a linear topology from an ordered stage list. The last
// stage's successor is completion.
func NewTopology(version string, stages []string) (*Topology, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("topology '%s' has no stages", version)
	}

	successors := make(map[string]string, len(stages))
	for i, stage := range stages {
		if stage == "" {
			return nil, fmt.Errorf("topology '%s' contains an empty stage name", version)
		}
		if _, dup := successors[stage]; dup {
			return nil, fmt.Errorf("topology '%s' lists stage '%s' twice", version, stage)
		}
		if i+1 < len(stages) {
			successors[stage] = stages[i+1]
		} else {
			successors[stage] = ""
		}
	}

	ordered := make([]string, len(stages))
	copy(ordered, stages)

	return &Topology{
		version:    version,
		stages:     ordered,
		successors: successors,
	}, nil
}

// DefaultTopology returns the standard invoice pipeline:
// receive → parse → confidence_patch → validate → triage → export.
func DefaultTopology() *Topology {
	t, err := NewTopology("1", []string{
		StageReceive,
		StageParse,
		StageConfidencePatch,
		StageValidate,
		StageTriage,
		StageExport,
	})
	if err != nil {
		panic(err) // the built-in topology is always valid
	}
	return t
}

// ParseTopology decodes a topology from YAML.
func ParseTopology(data []byte) (*Topology, error) {
	var file topologyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("topology file is missing a version")
	}
	return NewTopology(file.Version, file.Stages)
}

// LoadTopology reads and decodes a topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return ParseTopology(data)
}

// Version returns the topology's version string.
func (t *Topology) Version() string {
	return t.version
}

// Initial returns the first stage of the pipeline.
func (t *Topology) Initial() string {
	return t.stages[0]
}

// Stages returns the stage names in execution order.
func (t *Topology) Stages() []string {
	out := make([]string, len(t.stages))
	copy(out, t.stages)
	return out
}

// Successor returns the next stage after the given one. ok is false when the
// stage is not part of the topology. A terminal stage returns next == "" with
// ok == true: its successor is completion.
func (t *Topology) Successor(stage string) (next string, ok bool) {
	next, ok = t.successors[stage]
	return next, ok
}

// IsTerminal reports whether the stage is the last one before completion.
func (t *Topology) IsTerminal(stage string) bool {
	next, ok := t.successors[stage]
	return ok && next == ""
}

// Validate checks that every stage the topology names is registered.
func (t *Topology) Validate(registry *StageRegistry) error {
	for _, stage := range t.stages {
		if !registry.Has(stage) {
			return fmt.Errorf("topology '%s' references unregistered stage '%s': %w",
				t.version, stage, ErrUnknownStage)
		}
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/invopipe/invopipe"
	"github.com/invopipe/invopipe/stages"
)

func newResumeCmd(app *appContext) *cobra.Command {
	var (
		approve  bool
		reject   bool
		escalate bool
		sets     []string
	)

	cmd := &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Resume a paused workflow with a reviewer decision",
		Long: "Resume revives a workflow paused for review. Exactly one of --approve,\n" +
			"--reject, or --escalate applies the reviewer's verdict; --set key=value\n" +
			"supplies corrected input that the paused stage re-evaluates instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := buildDecision(approve, reject, escalate, sets)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			checkpoints, err := openStore(ctx, app.cfg)
			if err != nil {
				return err
			}
			defer checkpoints.Close()

			topology, err := loadTopology(app.cfg)
			if err != nil {
				return err
			}

			registry := stages.Register(invopipe.NewRegistryBuilder(), stages.Config{
				Parser:            localParser{},
				Corrector:         localCorrector{},
				Validator:         localValidator{},
				Exporter:          localExporter{dir: app.cfg.Run.OutputDir},
				PatchThreshold:    app.cfg.Pipeline.PatchThreshold,
				ReviewThreshold:   app.cfg.Pipeline.ReviewThreshold,
				EscalateThreshold: app.cfg.Pipeline.EscalateThreshold,
			}).Build()

			execOpts := []invopipe.ExecutorOption{}
			if app.cfg.Pipeline.StageTimeout > 0 {
				execOpts = append(execOpts, invopipe.WithDefaultStageTimeout(time.Duration(app.cfg.Pipeline.StageTimeout)))
			}

			orchestrator, err := invopipe.NewOrchestrator(registry, checkpoints, topology,
				invopipe.WithOrchestratorLogger(invopipe.NewSlogLogger(app.slog)),
				invopipe.WithDefaultMaxRetries(app.cfg.Pipeline.MaxRetries),
				invopipe.WithExecutorOptions(execOpts...),
			)
			if err != nil {
				return err
			}

			state, err := orchestrator.Resume(ctx, args[0], decision)
			if err != nil {
				return err
			}
			printRunResult(state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "approve and advance past the paused stage")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject and terminate the workflow as failed")
	cmd.Flags().BoolVar(&escalate, "escalate", false, "terminate the workflow as escalated")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "corrected input as key=value (value parsed as JSON, falling back to string)")
	return cmd
}

// buildDecision translates the flag set into the decision payload Resume
// expects.
func buildDecision(approve, reject, escalate bool, sets []string) (map[string]any, error) {
	actions := 0
	action := ""
	if approve {
		actions++
		action = invopipe.ReviewApprove
	}
	if reject {
		actions++
		action = invopipe.ReviewReject
	}
	if escalate {
		actions++
		action = invopipe.ReviewEscalate
	}
	if actions > 1 {
		return nil, fmt.Errorf("at most one of --approve, --reject, --escalate may be given")
	}
	if actions == 0 && len(sets) == 0 {
		return nil, fmt.Errorf("a decision is required: --approve, --reject, --escalate, or --set")
	}

	decision := make(map[string]any)
	if action != "" {
		decision[invopipe.DecisionKeyAction] = action
	}

	for _, kv := range sets {
		key, raw, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --set value '%s', expected key=value", kv)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		decision[key] = value
	}
	return decision, nil
}

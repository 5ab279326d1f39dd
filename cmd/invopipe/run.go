package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invopipe/invopipe"
	"github.com/invopipe/invopipe/stages"
)

func newRunCmd(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <document>...",
		Short: "Start a workflow for each invoice document",
		Long: "Run starts one workflow per document and drives each until it completes,\n" +
			"pauses for review, or terminates. Paused and escalated workflows are\n" +
			"reported with their workflow id so they can be resumed or inspected later.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), app, args)
		},
	}
	return cmd
}

func runPipeline(ctx context.Context, app *appContext, documents []string) error {
	cfg := app.cfg

	checkpoints, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	topology, err := loadTopology(cfg)
	if err != nil {
		return err
	}

	registry := stages.Register(invopipe.NewRegistryBuilder(), stages.Config{
		Parser:            localParser{},
		Corrector:         localCorrector{},
		Validator:         localValidator{},
		Exporter:          localExporter{dir: cfg.Run.OutputDir},
		PatchThreshold:    cfg.Pipeline.PatchThreshold,
		ReviewThreshold:   cfg.Pipeline.ReviewThreshold,
		EscalateThreshold: cfg.Pipeline.EscalateThreshold,
	}).Build()

	metrics := invopipe.NewMetrics(prometheus.DefaultRegisterer)
	execOpts := []invopipe.ExecutorOption{
		invopipe.WithObserver(metrics),
		invopipe.WithMiddleware(metrics.Middleware()),
	}
	if cfg.Pipeline.StageTimeout > 0 {
		execOpts = append(execOpts, invopipe.WithDefaultStageTimeout(time.Duration(cfg.Pipeline.StageTimeout)))
	}

	orchestrator, err := invopipe.NewOrchestrator(registry, checkpoints, topology,
		invopipe.WithOrchestratorLogger(invopipe.NewSlogLogger(app.slog)),
		invopipe.WithDefaultMaxRetries(cfg.Pipeline.MaxRetries),
		invopipe.WithExecutorOptions(execOpts...),
	)
	if err != nil {
		return err
	}

	// The metrics endpoint lives for the duration of the run.
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.slog.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsSrv.Shutdown(context.Background())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Run.Concurrency)

	results := make([]*invopipe.WorkflowState, len(documents))
	for i, doc := range documents {
		g.Go(func() error {
			state, err := orchestrator.Start(gctx, doc, map[string]any{
				stages.KeyDocumentRef: doc,
			}, cfg.Pipeline.MaxRetries)
			if err != nil {
				return fmt.Errorf("%s: %w", doc, err)
			}
			results[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, state := range results {
		printRunResult(state)
	}
	return nil
}

func printRunResult(state *invopipe.WorkflowState) {
	switch state.Status {
	case invopipe.StatusCompleted:
		fmt.Printf("%s  completed  workflow=%s  export=%v\n",
			state.SubjectID, state.WorkflowID, state.Payload[stages.KeyExportRef])
	case invopipe.StatusPausedForReview:
		fmt.Printf("%s  paused     workflow=%s  reason=%s\n",
			state.SubjectID, state.WorkflowID, state.PendingReason)
	default:
		fmt.Printf("%s  %-9s  workflow=%s  error=%s: %s\n",
			state.SubjectID, state.Status, state.WorkflowID, state.ErrorKind, state.ErrorDetail)
	}
}

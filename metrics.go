package invopipe

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the orchestrator. It implements
// Observer, so it is wired into the executor with WithObserver.
type Metrics struct {
	stageExecutions *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	runsFinished    *prometheus.CounterVec
	activeRuns      prometheus.Gauge
}

// NewMetrics registers the orchestrator metrics on the given registerer and
// returns the collector.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		stageExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invopipe",
			Name:      "stage_executions_total",
			Help:      "Stage invocations by stage name and outcome classification.",
		}, []string{"stage", "classification"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invopipe",
			Name:      "stage_duration_seconds",
			Help:      "Stage invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invopipe",
			Name:      "runs_finished_total",
			Help:      "Executor loop exits by workflow status.",
		}, []string{"status"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "invopipe",
			Name:      "active_runs",
			Help:      "Number of workflow runs currently executing.",
		}),
	}
}

// StageExecuted implements Observer.
func (m *Metrics) StageExecuted(_ string, stage string, outcome Classification, duration time.Duration) {
	m.stageExecutions.WithLabelValues(stage, string(outcome)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RunFinished implements Observer.
func (m *Metrics) RunFinished(_ string, status Status) {
	m.runsFinished.WithLabelValues(string(status)).Inc()
}

// Middleware returns executor middleware that tracks the active-run gauge
// around each run.
func (m *Metrics) Middleware() Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
			m.activeRuns.Inc()
			defer m.activeRuns.Dec()
			return next(ctx, state)
		}
	}
}

package invopipe

import (
	"context"
	"time"
)

// LoggingMiddleware creates a middleware that logs run entry and exit with
// timing.
func LoggingMiddleware(logger Logger) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
			logger.Info("Middleware: starting run for workflow %s", state.WorkflowID)

			start := time.Now()
			result, err := next(ctx, state)
			duration := time.Since(start)

			if err != nil {
				logger.Error("Middleware: workflow %s ended after %v: %v",
					state.WorkflowID, duration.Round(time.Millisecond), err)
			} else {
				logger.Info("Middleware: workflow %s reached status %s in %v",
					state.WorkflowID, result.Status, duration.Round(time.Millisecond))
			}

			return result, err
		}
	}
}

// TimeLimitMiddleware creates a middleware that enforces a wall-clock limit
// on one run. The executor observes the deadline at its between-stage
// cancellation check, so the run is checkpointed with the cancelled flag
// rather than aborted mid-stage.
func TimeLimitMiddleware(limit time.Duration) Middleware {
	return func(next RunFunc) RunFunc {
		return func(ctx context.Context, state *WorkflowState) (*WorkflowState, error) {
			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()

			return next(ctx, state)
		}
	}
}

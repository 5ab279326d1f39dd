package invopipe

import "time"

// Observer receives notifications about stage executions and run exits. The
// metrics collector implements it; custom implementations can feed dashboards
// or audit logs.
type Observer interface {
	// StageExecuted is called after every stage invocation, regardless of
	// outcome.
	StageExecuted(workflowID, stage string, outcome Classification, duration time.Duration)

	// RunFinished is called whenever the executor loop exits: on terminal
	// states, on pause, and on cancellation. status is the state's status at
	// the time of exit.
	RunFinished(workflowID string, status Status)
}

// NoopObserver ignores all notifications.
type NoopObserver struct{}

// StageExecuted implements Observer.
func (NoopObserver) StageExecuted(string, string, Classification, time.Duration) {}

// RunFinished implements Observer.
func (NoopObserver) RunFinished(string, Status) {}

package invopipe

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt. Strategies are
// stateless and safe for concurrent use.
type BackoffStrategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ConstantBackoff always returns the same delay regardless of attempt number.
type ConstantBackoff struct {
	Interval time.Duration
}

// NewConstantBackoff creates a constant backoff strategy.
func NewConstantBackoff(interval time.Duration) *ConstantBackoff {
	return &ConstantBackoff{Interval: interval}
}

// Delay returns the fixed interval.
func (c *ConstantBackoff) Delay(_ int) time.Duration {
	return c.Interval
}

// ExponentialBackoff doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialBackoff creates an exponential backoff strategy.
func NewExponentialBackoff(initial, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// JitterBackoff applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type JitterBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NewJitterBackoff creates an exponential backoff with full jitter.
func NewJitterBackoff(initial, maxDelay time.Duration) *JitterBackoff {
	return &JitterBackoff{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (j *JitterBackoff) Delay(attempt int) time.Duration {
	base := float64(j.Initial) * math.Pow(2, float64(attempt-1))
	if j.Max > 0 && base > float64(j.Max) {
		base = float64(j.Max)
	}
	return time.Duration(rand.Float64() * base)
}

// NoBackoff retries immediately. Useful in tests.
type NoBackoff struct{}

// Delay always returns zero.
func (NoBackoff) Delay(_ int) time.Duration {
	return 0
}

// DefaultBackoff returns the strategy the executor uses when none is
// configured: exponential with full jitter, 500ms initial and 30s max.
func DefaultBackoff() BackoffStrategy {
	return NewJitterBackoff(500*time.Millisecond, 30*time.Second)
}

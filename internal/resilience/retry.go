package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// Backoff selects how the delay between attempts grows.
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy bounds how often and how patiently an operation is re-attempted.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Backoff     Backoff       `yaml:"backoff"`
}

// DefaultRetryPolicy returns three attempts with a linear one-second step.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Backoff:     BackoffLinear,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff == BackoffExponential {
		return p.BaseDelay * time.Duration(1<<uint(attempt-1))
	}
	return p.BaseDelay * time.Duration(attempt)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retrier runs operations under a RetryPolicy.
type Retrier struct {
	policy RetryPolicy
	clock  clockwork.Clock
	logger *slog.Logger

	// OnRetry, when set, observes every scheduled re-attempt.
	OnRetry func(operation string, attempt int, delay time.Duration, err error)
}

// NewRetrier creates a retrier. Nil clock and logger select the real clock and slog.Default.
func NewRetrier(policy RetryPolicy, clock clockwork.Clock, logger *slog.Logger) *Retrier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{policy: policy, clock: clock, logger: logger}
}

// Policy returns the retry policy.
func (r *Retrier) Policy() RetryPolicy { return r.policy }

// Do invokes fn until it succeeds or the policy's attempts are spent.
// Validation, configuration and not-found errors are returned unchanged
// without another attempt. When every attempt fails the result is a
// *llmerrors.RetryError naming the operation and attempt count.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	maxAttempts := r.policy.attempts()

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !llmerrors.IsTransient(last) {
			return last
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.policy.Delay(attempt)
		r.logger.Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", last,
		)
		if r.OnRetry != nil {
			r.OnRetry(operation, attempt, delay, last)
		}

		select {
		case <-ctx.Done():
			return &llmerrors.RetryError{Operation: operation, Attempts: attempt, Last: ctx.Err()}
		case <-r.clock.After(delay):
		}
	}

	return &llmerrors.RetryError{Operation: operation, Attempts: maxAttempts, Last: last}
}

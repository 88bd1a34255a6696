package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

func TestRetryPolicy_Delay(t *testing.T) {
	linear := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, Backoff: BackoffLinear}
	assert.Equal(t, 100*time.Millisecond, linear.Delay(1))
	assert.Equal(t, 200*time.Millisecond, linear.Delay(2))
	assert.Equal(t, 300*time.Millisecond, linear.Delay(3))

	exp := RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, Backoff: BackoffExponential}
	assert.Equal(t, 100*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exp.Delay(2))
	assert.Equal(t, 400*time.Millisecond, exp.Delay(3))
}

func TestRetrier_PermanentFailure(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		policy := RetryPolicy{MaxAttempts: n, BaseDelay: time.Millisecond}
		r := NewRetrier(policy, nil, nil)

		var delays []time.Duration
		r.OnRetry = func(_ string, _ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		}

		calls := 0
		err := r.Do(context.Background(), "chat", func(context.Context) error {
			calls++
			return llmerrors.NewTransientError("openai", "gpt-4o", "503", nil)
		})

		assert.Equal(t, n, calls)
		require.Error(t, err)

		var retryErr *llmerrors.RetryError
		require.True(t, errors.As(err, &retryErr))
		assert.Equal(t, n, retryErr.Attempts)
		assert.Equal(t, "chat", retryErr.Operation)
		assert.Contains(t, err.Error(), fmt.Sprintf("after %d attempts", n))

		require.Len(t, delays, n-1)
		for i := 1; i < len(delays); i++ {
			assert.Greater(t, delays[i], delays[i-1])
		}
	}
}

func TestRetrier_ValidationNeverRetried(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, nil, nil)

	calls := 0
	want := llmerrors.NewValidationError("bad input")
	err := r.Do(context.Background(), "chat", func(context.Context) error {
		calls++
		return want
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, want, err)
}

func TestRetrier_NonTransientKindsNotRetried(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, nil, nil)

	for _, e := range []error{
		llmerrors.NewConfigurationError("openai", "bad key"),
		llmerrors.NewNotFoundError("missing"),
		llmerrors.NewUnsupportedRoleError("openai", "tool"),
	} {
		calls := 0
		err := r.Do(context.Background(), "op", func(context.Context) error {
			calls++
			return e
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, e, err)
	}
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	fc := clockwork.NewFakeClock()
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Backoff: BackoffLinear}
	r := NewRetrier(policy, fc, nil)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(context.Background(), "embed", func(context.Context) error {
			calls++
			if calls < 3 {
				return llmerrors.NewTimeoutError("ollama", "m", "timed out")
			}
			return nil
		})
	}()

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	fc.BlockUntil(1)
	fc.Advance(2 * time.Second)

	require.NoError(t, <-done)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ZeroAttemptsRunsOnce(t *testing.T) {
	r := NewRetrier(RetryPolicy{}, nil, nil)
	calls := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.Equal(t, 1, calls)
	assert.Error(t, err)
}

// Package resilience implements the per-backend rate limiter, the retry engine
// and the fallback orchestrator.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// minWait keeps a rejected caller from spinning when the oldest entry expires
// in the same instant it is checked.
const minWait = time.Millisecond

// Limiter enforces each backend's request and token ceilings over sliding
// one-minute windows. Callers over budget are suspended until the oldest
// window entry expires, then re-checked.
type Limiter struct {
	store  WindowStore
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	limits map[string]Limits

	// OnWait, when set, observes every suspension.
	OnWait func(key string, wait time.Duration)
}

// NewLimiter creates a limiter over store. A nil store keeps windows in memory.
func NewLimiter(store WindowStore, clock clockwork.Clock, logger *slog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryWindowStore()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		logger: logger,
		limits: make(map[string]Limits),
	}
}

// SetLimits configures the ceilings for a backend identity.
func (l *Limiter) SetLimits(key string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[key] = limits
}

// Limits returns the ceilings configured for key.
func (l *Limiter) Limits(key string) Limits {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits[key]
}

// Wait blocks until one request costing tokens is admitted for key and returns
// the total time spent suspended. A request whose cost alone exceeds the token
// ceiling can never be admitted and fails with a validation error.
func (l *Limiter) Wait(ctx context.Context, key string, tokens int64) (time.Duration, error) {
	limits := l.Limits(key)
	if limits.Unlimited() {
		return 0, nil
	}
	if limits.Tokens > 0 && tokens > limits.Tokens {
		return 0, llmerrors.NewValidationErrorf(
			"request needs an estimated %d tokens, over the %d tokens-per-minute ceiling of %s",
			tokens, limits.Tokens, key)
	}

	var waited time.Duration
	for {
		wait, err := l.store.Admit(ctx, key, l.clock.Now(), tokens, limits)
		if err != nil {
			return waited, llmerrors.NewTransientError(key, "", "rate limit store: "+err.Error(), err)
		}
		if wait <= 0 {
			return waited, nil
		}
		if wait < minWait {
			wait = minWait
		}

		l.logger.Debug("rate limit reached, waiting", "backend", key, "wait", wait, "tokens", tokens)
		if l.OnWait != nil {
			l.OnWait(key, wait)
		}

		select {
		case <-ctx.Done():
			return waited, ctx.Err()
		case <-l.clock.After(wait):
			waited += wait
		}
	}
}

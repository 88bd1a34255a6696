package resilience

import (
	"context"
	"log/slog"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// Target is one backend's version of an operation.
type Target struct {
	Backend string
	Run     func(ctx context.Context) error
}

// FallbackTarget is the secondary backend. Ready reports whether its
// prerequisites, such as credentials, are present.
type FallbackTarget struct {
	Target
	Ready func() bool
}

// Fallback routes an operation that exhausted its retries on the primary
// backend to a secondary one.
type Fallback struct {
	retrier *Retrier
	logger  *slog.Logger

	// OnFallback, when set, observes every escalation with its outcome.
	OnFallback func(primary, fallback string, err error)
}

// NewFallback creates an orchestrator that retries both targets with retrier.
func NewFallback(retrier *Retrier, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{retrier: retrier, logger: logger}
}

// Run executes primary through the retry engine. If it fails with anything
// other than a validation error and fallback is present and ready, fallback
// runs through the retry engine too. Without a usable fallback the primary
// error is returned unchanged. When both fail the result is an
// *llmerrors.ExhaustionError carrying both causes.
func (f *Fallback) Run(ctx context.Context, operation string, primary Target, fallback *FallbackTarget) error {
	primaryErr := f.retrier.Do(ctx, operation+" on "+primary.Backend, primary.Run)
	if primaryErr == nil {
		return nil
	}
	if llmerrors.IsValidation(primaryErr) {
		return primaryErr
	}
	if fallback == nil || fallback.Run == nil {
		return primaryErr
	}
	if fallback.Ready != nil && !fallback.Ready() {
		f.logger.Warn("fallback backend not ready, skipping",
			"operation", operation, "primary", primary.Backend, "fallback", fallback.Backend)
		return primaryErr
	}

	f.logger.Warn("primary backend failed, switching to fallback",
		"operation", operation,
		"primary", primary.Backend,
		"fallback", fallback.Backend,
		"error", primaryErr,
	)

	fallbackErr := f.retrier.Do(ctx, operation+" on "+fallback.Backend, fallback.Run)
	if f.OnFallback != nil {
		f.OnFallback(primary.Backend, fallback.Backend, fallbackErr)
	}
	if fallbackErr == nil {
		return nil
	}

	return &llmerrors.ExhaustionError{
		PrimaryBackend:  primary.Backend,
		Primary:         primaryErr,
		FallbackBackend: fallback.Backend,
		Fallback:        fallbackErr,
	}
}

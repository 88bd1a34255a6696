// Package errors defines the error taxonomy shared by every layer of the orchestrator.
// Errors are tagged with a Kind where they are first raised; retry and fallback
// decisions inspect the tag, never the message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and escalation decisions.
type Kind string

// Error kinds.
const (
	KindValidation      Kind = "validation"
	KindUnsupportedRole Kind = "unsupported_role"
	KindTransient       Kind = "transient_backend"
	KindConfiguration   Kind = "configuration"
	KindNotFound        Kind = "not_found"
	KindExhaustion      Kind = "exhaustion"
	KindInternal        Kind = "internal"
	KindTimeout         Kind = "timeout"
	KindRateLimited     Kind = "rate_limited"
)

// Error is a kind-tagged error raised by adapters, the memory store and the facade.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Backend    string `json:"backend,omitempty"`
	Model      string `json:"model,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (backend=%s, model=%s, code=%d)",
			e.Kind, e.Message, e.Backend, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (backend=%s, model=%s)", e.Kind, e.Message, e.Backend, e.Model)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the retry engine may re-attempt the failed operation.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindTimeout, KindRateLimited, KindInternal:
		return true
	default:
		return false
	}
}

// NewValidationError reports malformed caller input.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewValidationErrorf is NewValidationError with formatting.
func NewValidationErrorf(format string, args ...any) *Error {
	return NewValidationError(fmt.Sprintf(format, args...))
}

// NewUnsupportedRoleError reports a message role outside system, user and assistant.
func NewUnsupportedRoleError(backend, role string) *Error {
	return &Error{
		Kind:    KindUnsupportedRole,
		Message: fmt.Sprintf("unsupported role %q", role),
		Backend: backend,
	}
}

// NewTransientError reports a remote failure that may succeed on a later attempt.
func NewTransientError(backend, model, message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Backend: backend, Model: model, Cause: cause}
}

// NewTimeoutError reports an aborted remote call.
func NewTimeoutError(backend, model, message string) *Error {
	return &Error{
		Kind:       KindTimeout,
		Message:    message,
		Backend:    backend,
		Model:      model,
		StatusCode: http.StatusRequestTimeout,
	}
}

// NewConfigurationError reports missing credentials or an invalid backend setup.
func NewConfigurationError(backend, message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Backend: backend}
}

// NewNotFoundError reports an unknown memory id.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// FromStatus maps a non-2xx HTTP status returned by a backend to a tagged error.
func FromStatus(backend, model string, status int, message string) *Error {
	e := &Error{Message: message, Backend: backend, Model: model, StatusCode: status}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindConfiguration
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusRequestTimeout:
		e.Kind = KindTimeout
	default:
		e.Kind = KindTransient
	}
	return e
}

// KindOf returns the kind of err. Untagged errors report KindTransient.
func KindOf(err error) Kind {
	if IsExhaustion(err) {
		return KindExhaustion
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsValidation reports whether err is a validation error. Unsupported roles
// count as validation failures.
func IsValidation(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == KindValidation || e.Kind == KindUnsupportedRole
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool { return hasKind(err, KindConfiguration) }

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable()
	}
	return !IsExhaustion(err)
}

// IsExhaustion reports whether both primary and fallback failed.
func IsExhaustion(err error) bool {
	var ex *ExhaustionError
	return stderrors.As(err, &ex)
}

func hasKind(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}

// RetryError is raised once every attempt of an operation has failed.
type RetryError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error { return e.Last }

// ExhaustionError is the terminal failure when both primary and fallback failed.
// It carries both causes so operators can tell which layer broke.
type ExhaustionError struct {
	PrimaryBackend  string
	Primary         error
	FallbackBackend string
	Fallback        error
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("primary backend %s failed: %v; fallback backend %s failed: %v",
		e.PrimaryBackend, e.Primary, e.FallbackBackend, e.Fallback)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *ExhaustionError) Unwrap() []error { return []error{e.Primary, e.Fallback} }

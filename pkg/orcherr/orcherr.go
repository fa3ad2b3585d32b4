// Package orcherr defines the error taxonomy shared by every core component:
// providers, the pipeline, the iteration engine, and the artifact store all
// classify failures into one of these kinds so the Orchestrator can decide
// retry vs. terminal-fail without inspecting component-specific error types.
package orcherr

import "fmt"

// Kind is one of the error taxonomy members.
type Kind string

const (
	InvalidRequest        Kind = "invalid_request"
	NotFound               Kind = "not_found"
	Unauthorized           Kind = "unauthorized"
	ProviderUnavailable    Kind = "provider_unavailable"
	Transient              Kind = "transient"
	RateLimited            Kind = "rate_limited"
	ContextTooLarge        Kind = "context_too_large"
	MalformedOutput        Kind = "malformed_output"
	IterationProducedEmpty Kind = "iteration_produced_empty"
	DataLossDetected       Kind = "data_loss_detected"
	StorageError           Kind = "storage_error"
	Internal               Kind = "internal"
)

// Error is the sentinel-kind error type used across the core. It wraps an
// underlying cause (if any) and carries enough context for logs without
// leaking a stack trace to callers.
type Error struct {
	Kind          Kind
	Component     string
	Message       string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on Kind regardless of component/message/wrapped err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error with no wrapped cause.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, component, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: err}
}

// WithCorrelation attaches a correlation id, returning the same *Error for
// chaining at the construction site.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; returns Internal for anything else, matching the taxonomy's
// "bug catch-all" default.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return Internal
	}
	return e.Kind
}

// Retryable reports whether the taxonomy kind is handled by the retry
// policy in the concurrency model (Transient, RateLimited) rather than
// surfaced immediately as a terminal failure.
func Retryable(kind Kind) bool {
	return kind == Transient || kind == RateLimited
}

// sentinel kinds for errors.Is(err, orcherr.SentinelX) usage.
var (
	ErrInvalidRequest        = &Error{Kind: InvalidRequest}
	ErrNotFound              = &Error{Kind: NotFound}
	ErrUnauthorized          = &Error{Kind: Unauthorized}
	ErrProviderUnavailable   = &Error{Kind: ProviderUnavailable}
	ErrTransient             = &Error{Kind: Transient}
	ErrRateLimited           = &Error{Kind: RateLimited}
	ErrContextTooLarge       = &Error{Kind: ContextTooLarge}
	ErrMalformedOutput       = &Error{Kind: MalformedOutput}
	ErrIterationProducedEmpty = &Error{Kind: IterationProducedEmpty}
	ErrDataLossDetected      = &Error{Kind: DataLossDetected}
	ErrStorageError          = &Error{Kind: StorageError}
	ErrInternal              = &Error{Kind: Internal}
)

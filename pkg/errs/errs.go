// Package errs defines the stable error-kind taxonomy every core operation
// returns across the kernel boundary and between services.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error kinds from the core's error-handling design.
// Callers switch on Kind, never on error string text.
type Kind string

const (
	InvalidArg      Kind = "INVALID_ARG"
	PermissionDenied Kind = "PERMISSION_DENIED"
	NotFound        Kind = "NOT_FOUND"
	NotReady        Kind = "NOT_READY"
	OverLimit       Kind = "OVER_LIMIT"
	WouldBlock      Kind = "WOULD_BLOCK"
	IntegrityError  Kind = "INTEGRITY_ERROR"
	Conflict        Kind = "CONFLICT"
	RateLimited     Kind = "RATE_LIMITED"
	Internal        Kind = "INTERNAL"
)

// Error wraps an underlying cause with a stable Kind and the operation that
// produced it, the way a real kernel syscall failure would be reported.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for op with the given kind, optionally wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err does not
// carry one — every boundary crossing is expected to produce a typed error,
// so an untyped error reaching this point is itself a bug, not a policy call.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

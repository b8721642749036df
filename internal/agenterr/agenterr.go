// Package agenterr defines the error-kind taxonomy shared across every
// subsystem of the agent host, per the runtime's error handling design:
// instance/method resolution failures, malformed input, signature failures,
// scheduling conflicts, cancellation, timeouts, and unclassified bugs.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to branch on it (HTTP
// status mapping, RPC error frames, retry policy) without string matching.
type Kind string

const (
	NotFound        Kind = "not-found"
	InvalidArgument Kind = "invalid-argument"
	Unauthorized    Kind = "unauthorized"
	Conflict        Kind = "conflict"
	Canceled        Kind = "canceled"
	Timeout         Kind = "timeout"
	Internal        Kind = "internal"
)

// Error is the concrete error type carrying a Kind and a message, optionally
// wrapping a lower-level cause. Use errors.As to recover the Kind from an
// error chain produced by any subsystem.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping cause. The cause is kept
// unchanged, so wrapping an *Error repeats its kind and message in Error()'s
// output.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, otherwise
// Internal — the default assumed for unclassified errors bubbling up from
// user code per §7's propagation policy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsNotFound is a convenience predicate used by HTTP/RPC boundary code.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

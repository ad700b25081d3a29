// Package errs implements the error taxonomy shared by every subsystem.
//
// Each error carries a Kind (Auth, Provider, Network, Timeout, Rate, Config,
// State, Validation, Internal), a Recoverable flag derived from the kind,
// and a concise user-facing message. The Executor uses Recoverable to
// decide whether a step failure schedules a retry or fails the run outright.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry and reporting purposes.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindProvider   Kind = "provider"
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindRate       Kind = "rate"
	KindConfig     Kind = "config"
	KindState      Kind = "state"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// recoverable reports whether errors of this kind are retryable by the Executor.
func (k Kind) recoverable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRate, KindProvider:
		return true
	default:
		return false
	}
}

// Error is a tagged, wrappable error carrying a Kind and a user message.
type Error struct {
	Kind       Kind
	Message    string // concise, user-facing
	Recoverable bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a tagged error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: kind.recoverable()}
}

// Wrap tags an existing error with a kind and user message, preserving it as cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: kind.recoverable(), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is *Error.
// Returns KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRecoverable reports whether err should be retried by the Executor.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

package provider

import (
	"errors"
	"fmt"
)

// ErrorKind is the normalized failure taxonomy for provider calls.
type ErrorKind string

const (
	// KindUnavailable means the call could not be completed: transport
	// failure, timeout, or an unreadable response. Worth retrying later.
	KindUnavailable ErrorKind = "unavailable"

	// KindRejected means the provider answered with a non-success status.
	// Message carries the provider's own explanation.
	KindRejected ErrorKind = "rejected"

	// KindNotFound means the provider does not know the session.
	KindNotFound ErrorKind = "not_found"
)

// Error wraps provider failures with a normalized kind.
type Error struct {
	Kind       ErrorKind
	Operation  string
	StatusCode int
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Operation, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Operation, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Retryable reports whether the caller may reasonably re-attempt the call.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

func unavailable(op, message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Operation: op, Message: message, Underlying: err}
}

func rejected(op string, status int, message string) *Error {
	kind := KindRejected
	if status == 404 {
		kind = KindNotFound
	}
	return &Error{Kind: kind, Operation: op, StatusCode: status, Message: message}
}

// KindOf extracts the kind from err, or "" when err is not a provider error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

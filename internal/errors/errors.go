// Package errors provides the typed error taxonomy shared by the Tally sync
// engine.
//
// Usage:
//
//	// In mutation services - return typed errors
//	if rating < 1 || rating > 5 {
//	    return errors.Validation("rating must be between 1 and 5")
//	}
//
//	// At call sites - check with errors.Is
//	if errors.Is(err, errors.ErrConflict) {
//	    // another toggle for the same pair is still in flight
//	}
//
// Remote responses are classified into the same taxonomy by FromStatus so
// that callers never have to reason about raw HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the sync engine.
const (
	// CodeValidation marks bad local input; it never reaches the network.
	CodeValidation Code = "VALIDATION"
	// CodeUnauthorized marks a missing or invalid session.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeNotFound marks an absent remote resource.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict marks a tripped concurrent-mutation guard.
	CodeConflict Code = "CONFLICT"
	// CodeNetwork marks a transport failure before any response arrived.
	CodeNetwork Code = "NETWORK"
	// CodeRemote marks a backend-reported business error (e.g. duplicate
	// email at signup).
	CodeRemote Code = "REMOTE"
	// CodeTokenExpired marks an access token past its expiry.
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	// CodeInternal marks a bug on our side.
	CodeInternal Code = "INTERNAL"
)

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrValidation   = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict     = &Error{Code: CodeConflict, Message: "conflict"}
	ErrNetwork      = &Error{Code: CodeNetwork, Message: "network error"}
	ErrRemote       = &Error{Code: CodeRemote, Message: "remote error"}
	ErrTokenExpired = &Error{Code: CodeTokenExpired, Message: "token expired"}
	ErrInternal     = &Error{Code: CodeInternal, Message: "internal error"}
)

// Constructor functions for creating errors with custom messages.

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Network creates a network error.
func Network(msg string) *Error {
	return &Error{Code: CodeNetwork, Message: msg}
}

// Remote creates a remote error.
func Remote(msg string) *Error {
	return &Error{Code: CodeRemote, Message: msg}
}

// TokenExpired creates a token expired error.
func TokenExpired(msg string) *Error {
	return &Error{Code: CodeTokenExpired, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// FromStatus classifies an HTTP response status from the backend into the
// taxonomy. The message should be the backend-reported error message when one
// is available.
func FromStatus(status int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Unauthorized(msg)
	case status == http.StatusNotFound || status == http.StatusGone:
		return NotFound(msg)
	case status >= 400 && status < 500:
		return Remote(msg)
	default:
		return &Error{Code: CodeRemote, Message: msg, Details: status}
	}
}

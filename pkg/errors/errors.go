// Package errors provides structured error types for the layout scheduler.
//
// This package defines error codes and types that enable:
//   - Telling genuine failures apart from cancellation and negotiation denial
//   - Machine-readable error codes for programmatic handling
//   - Suppressing expected failures (consent-blocked builds) from error reports
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Codes group into four families:
//   - INVALID_*: configuration and scenario input failures
//   - BUILD_FAILED, CONSENT_BLOCKED, LAYOUT_FAILED: per-resource lifecycle failures
//   - CANCELLED, SIZE_DENIED: normal outcomes modeled as rejections
//   - PRECONDITION, NOT_MANAGED, INTERNAL: caller or engine misuse
//
// # Usage
//
//	err := errors.New(errors.ErrCodePrecondition, "resource %d not built", id)
//	if errors.Is(err, errors.ErrCodePrecondition) {
//	    // Handle misuse
//	}
//
//	// Wrap a node's own failure
//	err := errors.Wrap(errors.ErrCodeLayoutFailed, origErr, "layout of %d", id)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidConfig   Code = "INVALID_CONFIG"
	ErrCodeInvalidScenario Code = "INVALID_SCENARIO"

	// Caller misuse
	ErrCodePrecondition Code = "PRECONDITION"
	ErrCodeNotManaged   Code = "NOT_MANAGED"

	// Lifecycle failures
	ErrCodeBuildFailed    Code = "BUILD_FAILED"
	ErrCodeConsentBlocked Code = "CONSENT_BLOCKED"
	ErrCodeLayoutFailed   Code = "LAYOUT_FAILED"

	// Outcomes that are not failures
	ErrCodeCancelled  Code = "CANCELLED"
	ErrCodeSizeDenied Code = "SIZE_DENIED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether any *Error in err's chain has the given code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Cancelled returns the dedicated cancellation error.
func Cancelled(format string, args ...any) *Error {
	return New(ErrCodeCancelled, format, args...)
}

// IsCancellation reports whether err is a cancellation rather than a
// genuine failure.
func IsCancellation(err error) bool {
	return Is(err, ErrCodeCancelled)
}

// IsBlockedByConsent reports whether err is an expected consent-blocked
// failure that must not be reported as an error.
func IsBlockedByConsent(err error) bool {
	return Is(err, ErrCodeConsentBlocked)
}

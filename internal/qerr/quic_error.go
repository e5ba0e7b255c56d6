// Package qerr defines the engine's error taxonomy: a small set of
// ErrorCodes plus a QuicError that pairs a code with a human-readable
// reason, the way errors are reported across every package boundary in
// this module.
package qerr

import "fmt"

// ErrorCode can be used as a normal error without a reason string attached.
type ErrorCode uint32

func (e ErrorCode) Error() string {
	return e.String()
}

// A QuicError pairs an ErrorCode with a free-form reason.
type QuicError struct {
	ErrorCode    ErrorCode
	ErrorMessage string
}

// Error builds a QuicError from a code and a reason.
func Error(errorCode ErrorCode, errorMessage string) *QuicError {
	return &QuicError{
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
}

func (e *QuicError) Error() string {
	if e.ErrorMessage == "" {
		return e.ErrorCode.String()
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode.String(), e.ErrorMessage)
}

// ToQuicError normalizes any error into a *QuicError: a *QuicError passes
// through unchanged, a bare ErrorCode is wrapped with an empty reason, and
// anything else becomes InternalError.
func ToQuicError(err error) *QuicError {
	switch e := err.(type) {
	case *QuicError:
		return e
	case ErrorCode:
		return Error(e, "")
	default:
		return Error(InternalError, "")
	}
}

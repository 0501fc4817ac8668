// Package docdb provides the error codes shared by all implementations.
package docdb

import (
	"errors"
	"fmt"
)

// Code classifies an error returned by a document database implementation.
type Code string

// Status codes surfaced by implementations. The first five are transient
// and safe to retry; the rest are deterministic.
const (
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeAborted            Code = "ABORTED"
	CodeInternal           Code = "INTERNAL"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnknown            Code = "UNKNOWN"
)

// Error is a coded error returned by a document database implementation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a coded error.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf creates a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from an error, or CodeUnknown if the error does
// not carry one.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// IsNotFound reports whether the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsAlreadyExists reports whether the error carries the ALREADY_EXISTS code.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == CodeAlreadyExists
}

// Package errors provides typed error definitions for makedev.
// Every error that crosses a component boundary carries an ErrorCode so
// callers can branch on the kind of failure separately from its message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique identifier for different error types
type ErrorCode string

const (
	// ErrNotFound indicates the named environment or resource does not exist
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrAlreadyExists indicates an active environment with the name already exists
	ErrAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrConflict indicates a stale write or an operation already in flight for the name
	ErrConflict ErrorCode = "CONFLICT"
	// ErrAdapterUnavailable indicates the git or container backend is unreachable
	ErrAdapterUnavailable ErrorCode = "ADAPTER_UNAVAILABLE"
	// ErrAdapterError indicates an opaque failure in an underlying backend
	ErrAdapterError ErrorCode = "ADAPTER_ERROR"
	// ErrTimeout indicates an adapter call exceeded its deadline
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrInvalidInput indicates a caller-supplied value failed validation
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrInvalidState indicates the operation is not valid from the current status
	ErrInvalidState ErrorCode = "INVALID_STATE"
	// ErrDirtyWorktree indicates uncommitted changes block a worktree removal
	ErrDirtyWorktree ErrorCode = "DIRTY_WORKTREE"
	// ErrInternal indicates an invariant violation or rollback failure
	ErrInternal ErrorCode = "INTERNAL"
)

// Error represents a structured error with additional context
type Error struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HTTPStatus returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists, ErrConflict, ErrInvalidState, ErrDirtyWorktree:
		return http.StatusConflict
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrAdapterUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error that wraps an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// GetCode extracts the error code from an error chain.
// Returns ErrInternal when the chain carries no structured error.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// HasCode checks if an error has a specific error code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// AsError extracts a structured Error from an error chain
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

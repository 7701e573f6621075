// Package apperrors provides error code definitions shared across the core.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure that callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors
	ErrDatabase     ErrorCode = "DATABASE_ERROR"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"
	ErrStorageFull  ErrorCode = "STORAGE_FULL"
	ErrUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// Outbox / dispatch errors
	ErrEnqueueFailed  ErrorCode = "ENQUEUE_FAILED"
	ErrMissingPK      ErrorCode = "MISSING_PRIMARY_KEY"
	ErrUnknownPayload ErrorCode = "UNKNOWN_PAYLOAD"
	ErrDispatchFailed ErrorCode = "DISPATCH_FAILED"

	// Sync errors
	ErrSyncFailed   ErrorCode = "SYNC_FAILED"
	ErrFeedClosed   ErrorCode = "FEED_CLOSED"
	ErrBackendRead  ErrorCode = "BACKEND_READ_FAILED"
	ErrBackendWrite ErrorCode = "BACKEND_WRITE_FAILED"
)

// AppError carries an error code and message, optionally wrapping a cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

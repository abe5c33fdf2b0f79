// Package errors provides error code definitions for the offline sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers and logs.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorage     ErrorCode = "STORAGE_ERROR"
	ErrStoreClosed ErrorCode = "STORE_CLOSED"
	ErrMigration   ErrorCode = "MIGRATION_FAILED"

	// Queue errors
	ErrQueueFull    ErrorCode = "QUEUE_FULL"
	ErrInvalidState ErrorCode = "INVALID_STATE"

	// Sync errors
	ErrSyncTransient ErrorCode = "SYNC_TRANSIENT"
	ErrSyncConflict  ErrorCode = "SYNC_CONFLICT"
	ErrSyncFailed    ErrorCode = "SYNC_FAILED"
	ErrSyncTimeout   ErrorCode = "SYNC_TIMEOUT"
)

// AppError represents an application error with code and message.
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
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping nested AppErrors.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		appErr, ok := err.(*AppError)
		if !ok {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the error code of an AppError, or ErrInternal for any other error.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// Package errors provides coded application errors for the sync engine.
package errors

import "fmt"

// ErrorCode represents a stable, machine-readable error code surfaced to
// sync clients.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrConflict   ErrorCode = "CONFLICT"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncBadEnvelope  ErrorCode = "SYNC_BAD_ENVELOPE"
	ErrSyncUnknownTable ErrorCode = "SYNC_UNKNOWN_TABLE"
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrSyncLocked       ErrorCode = "SYNC_LOCKED"
	ErrSyncThrottled    ErrorCode = "SYNC_THROTTLED"
	ErrSyncPageOverflow ErrorCode = "SYNC_PAGE_OVERFLOW"
	ErrSyncUnauthorized ErrorCode = "SYNC_UNAUTHORIZED"

	// Side-effect errors (logged, never propagated to sync callers)
	ErrEmbeddingQueue ErrorCode = "EMBEDDING_QUEUE_ERROR"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// RetryAfterMillis carries a backoff hint for throttle rejections.
	RetryAfterMillis int64
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

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Throttled creates a retry-later rejection (lock contention or load
// shedding) carrying a retry hint in milliseconds.
func Throttled(code ErrorCode, message string, retryAfterMillis int64) *AppError {
	return &AppError{
		Code:             code,
		Message:          message,
		RetryAfterMillis: retryAfterMillis,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal for uncoded errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

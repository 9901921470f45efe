// Package errors provides the error taxonomy shared by the sync engine.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

// ErrorCode classifies a failure so callers can decide between retrying,
// queueing and aborting.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Local store errors
	ErrLocalPersistence ErrorCode = "LOCAL_PERSISTENCE"
	ErrMigration        ErrorCode = "MIGRATION_FAILED"

	// Remote errors
	ErrTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	ErrAuthRequired     ErrorCode = "AUTH_REQUIRED"
	ErrRemoteRejected   ErrorCode = "REMOTE_REJECTED"

	// Replay errors
	ErrReplayFailed ErrorCode = "REPLAY_FAILED"
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
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the outermost error code in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTransient reports whether err is worth retrying later: network failures,
// timeouts and auth failures that a refreshed session can fix.
// Permanent rejections and local persistence failures are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrRemoteRejected) || Is(err, ErrLocalPersistence) || Is(err, ErrInvalid) {
		return false
	}
	if Is(err, ErrTransientNetwork) || Is(err, ErrAuthRequired) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// IsPermanent reports whether the remote store refused err for good.
func IsPermanent(err error) bool {
	return Is(err, ErrRemoteRejected)
}

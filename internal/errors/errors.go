// Package errors provides the structured error type used across Loupe.
// Every error that crosses a package boundary carries a stable code so the
// MCP layer can map it to a protocol error without string matching.
package errors

import (
	"errors"
	"fmt"
)

// LoupeError is the structured error type for Loupe.
type LoupeError struct {
	// Code is the stable error code (see codes.go).
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the failed operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *LoupeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LoupeError) Unwrap() error {
	return e.Cause
}

// Is matches against another LoupeError by code, enabling errors.Is.
func (e *LoupeError) Is(target error) bool {
	if t, ok := target.(*LoupeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *LoupeError) WithDetail(key, value string) *LoupeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a LoupeError with the given code and message.
func New(code, message string) *LoupeError {
	return &LoupeError{
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LoupeError from an existing error. Returns nil for nil.
func Wrap(code string, err error) *LoupeError {
	if err == nil {
		return nil
	}
	return &LoupeError{
		Code:      code,
		Message:   err.Error(),
		Cause:     err,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a LoupeError with a formatted message.
func Newf(code, format string, args ...any) *LoupeError {
	return New(code, fmt.Sprintf(format, args...))
}

// InvalidArgument creates an ERR_INVALID_ARGUMENT error.
func InvalidArgument(message string) *LoupeError {
	return New(ErrCodeInvalidArgument, message)
}

// RepoNotFound creates an ERR_REPO_NOT_FOUND error.
func RepoNotFound(repoID string) *LoupeError {
	return Newf(ErrCodeRepoNotFound, "repository not found: %s", repoID).
		WithDetail("repo_id", repoID)
}

// PathNotFound creates an ERR_PATH_NOT_FOUND error.
func PathNotFound(path string) *LoupeError {
	return Newf(ErrCodePathNotFound, "path not found: %s", path).
		WithDetail("path", path)
}

// PathNotInRepo creates an ERR_PATH_NOT_IN_REPO error.
func PathNotInRepo(path string) *LoupeError {
	return Newf(ErrCodePathNotInRepo, "path is not inside an attached repository: %s", path).
		WithDetail("path", path)
}

// InvalidRange creates an ERR_INVALID_RANGE error.
func InvalidRange(message string) *LoupeError {
	return New(ErrCodeInvalidRange, message)
}

// ConfigError creates an ERR_CONFIG error.
func ConfigError(message string, cause error) *LoupeError {
	e := New(ErrCodeConfig, message)
	e.Cause = cause
	return e
}

// EmbedderUnavailable creates a retryable ERR_EMBEDDER_UNAVAILABLE error.
func EmbedderUnavailable(cause error) *LoupeError {
	e := Wrap(ErrCodeEmbedderUnavailable, cause)
	if e == nil {
		e = New(ErrCodeEmbedderUnavailable, "embedder unavailable")
	}
	return e
}

// IndexCorrupt creates an ERR_INDEX_CORRUPT error.
func IndexCorrupt(component string, cause error) *LoupeError {
	e := Newf(ErrCodeIndexCorrupt, "%s index corrupt", component)
	e.Cause = cause
	return e.WithDetail("component", component)
}

// Internal creates an ERR_INTERNAL error.
func Internal(message string, cause error) *LoupeError {
	e := New(ErrCodeInternal, message)
	e.Cause = cause
	return e
}

// CodeOf returns the code of err if it is (or wraps) a LoupeError, or
// ERR_INTERNAL otherwise.
func CodeOf(err error) string {
	var le *LoupeError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a retryable LoupeError.
func IsRetryable(err error) bool {
	var le *LoupeError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// As and Is re-export the standard helpers so callers need one errors import.
var (
	As = errors.As
	Is = errors.Is
)


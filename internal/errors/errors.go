// Package errors provides structured error types for the index search system.
// All errors include a category, code, message, and retryable flag so that the
// search loop can tell a failed evaluation apart from a programming error.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryConnectivity ErrorCategory = "CONNECTIVITY"
	ErrCategoryCodec        ErrorCategory = "CODEC"
	ErrCategoryIndex        ErrorCategory = "INDEX"
	ErrCategoryRefresh      ErrorCategory = "REFRESH"
	ErrCategoryBenchmark    ErrorCategory = "BENCHMARK"
	ErrCategoryConfig       ErrorCategory = "CONFIG"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Connectivity codes
	CodeConnectionFailed = "CONNECTION_FAILED"

	// Codec codes
	CodeLengthMismatch = "LENGTH_MISMATCH"
	CodeKeyNotFound    = "KEY_NOT_FOUND"
	CodeInvalidVector  = "INVALID_VECTOR"

	// Index codes
	CodeIndexConflict = "INDEX_CONFLICT"

	// Refresh codes
	CodeDataFileMissing = "DATA_FILE_MISSING"

	// Benchmark codes
	CodeEmptyProfileSet = "EMPTY_PROFILE_SET"
	CodeWorkerFailure   = "WORKER_FAILURE"
	CodeWorkerTimeout   = "WORKER_TIMEOUT"

	// Config codes
	CodeUnknownFitness = "UNKNOWN_FITNESS"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is matching. Matching compares category and code only.
var (
	ErrConnectivity    = New(ErrCategoryConnectivity, CodeConnectionFailed, "database unreachable")
	ErrLengthMismatch  = New(ErrCategoryCodec, CodeLengthMismatch, "vector length mismatch")
	ErrKeyNotFound     = New(ErrCategoryCodec, CodeKeyNotFound, "column not in state")
	ErrInvalidVector   = New(ErrCategoryCodec, CodeInvalidVector, "invalid vector")
	ErrIndexConflict   = New(ErrCategoryIndex, CodeIndexConflict, "index conflict")
	ErrDataFileMissing = New(ErrCategoryRefresh, CodeDataFileMissing, "refresh data file missing")
	ErrEmptyProfileSet = New(ErrCategoryBenchmark, CodeEmptyProfileSet, "no durations collected")
	ErrWorkerFailure   = New(ErrCategoryBenchmark, CodeWorkerFailure, "throughput worker failed")
	ErrWorkerTimeout   = New(ErrCategoryBenchmark, CodeWorkerTimeout, "throughput worker timed out")
	ErrUnknownFitness  = New(ErrCategoryConfig, CodeUnknownFitness, "unknown fitness function")
)

// SearchError is the structured error type used throughout the system.
type SearchError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SearchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SearchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SearchError) Is(target error) bool {
	var t *SearchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SearchError.
func New(category ErrorCategory, code, message string) *SearchError {
	return &SearchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SearchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SearchError {
	return &SearchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SearchError) WithDetails(details map[string]interface{}) *SearchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether err must abort the current evaluation.
// Only index conflicts are recovered locally.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrIndexConflict)
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SearchError.
func GetCategory(err error) ErrorCategory {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SearchError.
func GetCode(err error) string {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable marks errors a caller may retry with a fresh evaluation.
// Nothing is retried inside an evaluation.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryConnectivity && code == CodeConnectionFailed:
		return true
	case category == ErrCategoryBenchmark && code == CodeWorkerTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConnectivityError(message string, cause error) *SearchError {
	return Wrap(ErrCategoryConnectivity, CodeConnectionFailed, message, cause)
}

func NewCodecError(code, message string) *SearchError {
	return New(ErrCategoryCodec, code, message)
}

func NewIndexConflict(message string, cause error) *SearchError {
	return Wrap(ErrCategoryIndex, CodeIndexConflict, message, cause)
}

func NewRefreshError(code, message string, cause error) *SearchError {
	return Wrap(ErrCategoryRefresh, code, message, cause)
}

func NewBenchmarkError(code, message string, cause error) *SearchError {
	return Wrap(ErrCategoryBenchmark, code, message, cause)
}

func NewConfigError(code, message string) *SearchError {
	return New(ErrCategoryConfig, code, message)
}

func NewInternalError(message string, cause error) *SearchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

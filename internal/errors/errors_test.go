package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSearchError_Error(t *testing.T) {
	err := New(ErrCategoryRefresh, CodeDataFileMissing, "orders.tbl.u7 missing")
	expected := "[REFRESH:DATA_FILE_MISSING] orders.tbl.u7 missing"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSearchError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryConnectivity, CodeConnectionFailed, "open session", cause)
	expected := "[CONNECTIVITY:CONNECTION_FAILED] open session: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSearchError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryBenchmark, CodeWorkerFailure, "worker 2", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestSearchError_Is(t *testing.T) {
	err1 := New(ErrCategoryCodec, CodeLengthMismatch, "first")
	err2 := New(ErrCategoryCodec, CodeLengthMismatch, "second")
	err3 := New(ErrCategoryCodec, CodeKeyNotFound, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestSentinelsMatchWrappedErrors(t *testing.T) {
	err := fmt.Errorf("power test: %w", NewRefreshError(CodeDataFileMissing, "delete.3", nil))
	if !errors.Is(err, ErrDataFileMissing) {
		t.Error("wrapped refresh error should match ErrDataFileMissing")
	}
	if errors.Is(err, ErrWorkerFailure) {
		t.Error("refresh error must not match ErrWorkerFailure")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryConnectivity, CodeConnectionFailed, true},
		{ErrCategoryBenchmark, CodeWorkerTimeout, true},
		{ErrCategoryBenchmark, CodeWorkerFailure, false},
		{ErrCategoryBenchmark, CodeEmptyProfileSet, false},
		{ErrCategoryRefresh, CodeDataFileMissing, false},
		{ErrCategoryCodec, CodeLengthMismatch, false},
		{ErrCategoryCodec, CodeKeyNotFound, false},
		{ErrCategoryIndex, CodeIndexConflict, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(nil) {
		t.Error("nil is not fatal")
	}
	if IsFatal(NewIndexConflict("idx_c_name exists", nil)) {
		t.Error("index conflicts are recovered locally")
	}
	if !IsFatal(ErrWorkerTimeout) {
		t.Error("worker timeout must be fatal")
	}
	if !IsFatal(fmt.Errorf("plain error")) {
		t.Error("unclassified errors must be fatal")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewBenchmarkError(CodeEmptyProfileSet, "power test", nil)
	if GetCategory(err) != ErrCategoryBenchmark {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryBenchmark)
	}
	if GetCode(err) != CodeEmptyProfileSet {
		t.Errorf("got %q, want %q", GetCode(err), CodeEmptyProfileSet)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-SearchError should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewCodecError(CodeKeyNotFound, "missing column")
	detailed := err.WithDetails(map[string]interface{}{"table": "orders", "column": "o_clerk"})

	if detailed.Details["column"] != "o_clerk" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

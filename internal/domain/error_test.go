package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "message only",
			err:      &Error{Code: EINVALID, Message: "invalid input"},
			expected: "invalid input",
		},
		{
			name:     "with operation",
			err:      &Error{Code: EINVALID, Op: "activation.validate", Message: "invalid input"},
			expected: "activation.validate: invalid input",
		},
		{
			name: "with wrapped error",
			err: &Error{
				Code:    EINTERNAL,
				Op:      "reconcile.apply",
				Message: "failed to save",
				Err:     errors.New("database connection failed"),
			},
			expected: "reconcile.apply: failed to save: database connection failed",
		},
		{
			name: "wrapped error without op",
			err: &Error{
				Code:    EINTERNAL,
				Message: "failed to save",
				Err:     errors.New("database connection failed"),
			},
			expected: "failed to save: database connection failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "domain error", err: &Error{Code: EINVALID, Message: "test"}, expected: EINVALID},
		{name: "wrapped domain error", err: fmt.Errorf("wrapped: %w", &Error{Code: ENOTFOUND, Message: "test"}), expected: ENOTFOUND},
		{name: "non-domain error", err: errors.New("some error"), expected: EINTERNAL},
		{name: "gateway failure joined with cause", err: fmt.Errorf("%w: %w", ErrGatewayLookup, errors.New("timeout")), expected: EUNAVAILABLE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.expected {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorMessage_HidesInternalDetails(t *testing.T) {
	err := Internal(errors.New("pq: connection refused"), "entitlement.get", "failed to read 10.0.0.3")
	if got := ErrorMessage(err); got != "An internal error occurred. Please try again later." {
		t.Errorf("ErrorMessage() = %q", got)
	}

	if got := ErrorMessage(ErrPaymentNotApproved); got != "Payment is not approved" {
		t.Errorf("ErrorMessage() = %q", got)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, EINTERNAL, "op", "msg") != nil {
		t.Fatal("WrapError(nil) should return nil")
	}

	underlying := errors.New("boom")
	err := WrapError(underlying, EINTERNAL, "sweep.list", "failed to list")
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find underlying error")
	}
	if ErrorOp(err) != "sweep.list" {
		t.Errorf("ErrorOp() = %q, want sweep.list", ErrorOp(err))
	}
}

func TestSentinelErrors_MatchThroughWrapping(t *testing.T) {
	sentinels := []error{
		ErrGatewayLookup,
		ErrUnresolvedUser,
		ErrPersistence,
		ErrVersionConflict,
		ErrDuplicateEvent,
		ErrPendingPaymentNotFound,
		ErrPaymentAlreadyProcessed,
		ErrPaymentNotApproved,
	}

	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("dispatch payment 42: %w", sentinel)
			if !errors.Is(wrapped, sentinel) {
				t.Errorf("errors.Is(%v) = false", wrapped)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("activation.validate", "userId", "userId is required")
	if err.Error() != "activation.validate: userId: userId is required" {
		t.Errorf("Error() = %q", err.Error())
	}

	err = AddFieldError(err, "paymentId", "paymentId is required")
	if !IsValidationError(err) {
		t.Fatal("expected ValidationError")
	}

	fields := GetValidationFields(err)
	if len(fields) != 2 {
		t.Errorf("fields = %d, want 2", len(fields))
	}
	if GetValidationFields(errors.New("x")) != nil {
		t.Error("non-validation error should have no fields")
	}
}

package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These map to HTTP status codes and determine user-facing messages.
const (
	ECONFLICT    = "conflict"         // 409 - Concurrent write or duplicate event
	EINTERNAL    = "internal"         // 500 - Internal server error (hide details)
	EINVALID     = "invalid"          // 400 - Validation error (bad input)
	ENOTFOUND    = "not_found"        // 404 - Resource not found
	EUNAVAILABLE = "unavailable"      // 503 - Upstream gateway unreachable
	EPAYMENT     = "payment_required" // 402 - Payment not approved
	ERATELIMIT   = "rate_limited"     // 429 - Too many requests
	ETOOLARGE    = "too_large"        // 413 - Request body too large
)

// Error represents an application error with a code and message.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "reconcile.apply").
	// Used for logging, not shown to users.
	Op string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}

// ErrorMessage extracts a user-facing message from an error.
// Internal errors get a generic message so details never leak.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Code != EINTERNAL {
		return e.Message
	}

	return "An internal error occurred. Please try again later."
}

// ErrorOp extracts the operation from an error (for logging).
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "status.parse", "unknown gateway status: %q", s)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// =============================================================================
// Validation Errors
// =============================================================================

// ValidationError represents one or more field validation failures.
type ValidationError struct {
	// Fields maps field names to error messages.
	Fields map[string]string

	// Op is the operation where validation failed.
	Op string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if e.Op != "" {
				return fmt.Sprintf("%s: %s: %s", e.Op, field, msg)
			}
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: validation failed for %d fields", e.Op, len(e.Fields))
	}
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(op, field, message string) error {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}

// AddFieldError adds a field error to an existing ValidationError,
// creating one when err is nil or of another type.
func AddFieldError(err error, field, message string) error {
	var ve *ValidationError
	if err != nil && errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}

	return &ValidationError{
		Fields: map[string]string{field: message},
	}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GetValidationFields extracts field errors from a ValidationError.
func GetValidationFields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// =============================================================================
// Webhook and reconciliation errors
// =============================================================================

// Failure classes on the webhook path. Dispatch errors wrap one of these so
// callers can decide between dead-lettering and dropping with errors.Is.
var (
	// ErrGatewayLookup means the gateway API call for subscription or payment
	// details failed. Retryable.
	ErrGatewayLookup = &Error{Code: EUNAVAILABLE, Message: "Gateway lookup failed"}

	// ErrUnresolvedUser means an event could not be mapped to a user id.
	// Not retryable; the user falls back to manual activation.
	ErrUnresolvedUser = &Error{Code: ENOTFOUND, Message: "Event does not resolve to a user"}

	// ErrPersistence means an entitlement, subscription or audit write failed.
	// Retryable.
	ErrPersistence = &Error{Code: EINTERNAL, Message: "Failed to persist entitlement state"}
)

// Store-level outcomes of a compare-and-swap transition.
var (
	ErrVersionConflict  = &Error{Code: ECONFLICT, Message: "Entitlement was modified concurrently"}
	ErrDuplicateEvent   = &Error{Code: ECONFLICT, Message: "Event already applied"}
	ErrUnknownStatus    = &Error{Code: EINVALID, Message: "Unknown gateway status"}
	ErrMissingUserID    = &Error{Code: EINVALID, Message: "User ID is required"}
	ErrNoJobAvailable   = &Error{Code: ENOTFOUND, Message: "No job available"}
	ErrJobNotFound      = &Error{Code: ENOTFOUND, Message: "Job not found"}
	ErrInvalidSignature = &Error{Code: EINVALID, Message: "Invalid webhook signature"}
)

// Lookups.
var (
	ErrEntitlementNotFound  = &Error{Code: ENOTFOUND, Message: "Entitlement not found"}
	ErrSubscriptionNotFound = &Error{Code: ENOTFOUND, Message: "Subscription not found"}
)

// Manual activation errors.
var (
	ErrPendingPaymentNotFound  = &Error{Code: ENOTFOUND, Message: "Pending payment not found"}
	ErrPaymentAlreadyProcessed = &Error{Code: EINVALID, Message: "Payment already processed"}
	ErrPaymentNotApproved      = &Error{Code: EINVALID, Message: "Payment is not approved"}
)

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("entitlement.get", "entitlement", userID)
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

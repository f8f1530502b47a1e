package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAccessToken is returned when the access token is missing.
	ErrInvalidAccessToken = errors.New("gateway: invalid or missing access token")

	// ErrNotFound is returned when the gateway has no resource with the id.
	ErrNotFound = errors.New("gateway: resource not found")

	// ErrInvalidSignature is returned when webhook signature verification fails.
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")

	// ErrMissingSignature is returned when the signature header is absent or malformed.
	ErrMissingSignature = errors.New("gateway: missing webhook signature")
)

// APIError is a non-success response from the gateway API.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
	Cause      string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mercadopago: %s %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mercadopago: %s %d", e.Path, e.StatusCode)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

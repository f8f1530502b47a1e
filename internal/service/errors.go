package service

import (
	"errors"
	"fmt"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// Validation errors - use domain.EINVALID
var (
	ErrMissingPaymentID = domain.Errorf(domain.EINVALID, "", "Payment ID is required")
	ErrMissingDataID    = domain.Errorf(domain.EINVALID, "", "Notification data id is required")
)

// Reconciliation errors
var (
	ErrTooManyConflicts  = domain.Errorf(domain.ECONFLICT, "", "Entitlement kept changing while reconciling")
)

// Manual activation errors surface as validation failures
var (
	ErrNewerEventApplied = domain.Errorf(domain.EINVALID, "", "Entitlement was updated by a newer event")
)

// persistenceError wraps a store failure so callers can match ErrPersistence.
// Sentinels the caller must act on pass through unchanged.
func persistenceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrPersistence),
		errors.Is(err, domain.ErrPendingPaymentNotFound),
		errors.Is(err, domain.ErrPaymentAlreadyProcessed):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

// gatewayError wraps a gateway client failure as ErrGatewayLookup.
func gatewayError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrGatewayLookup, op, err)
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// activationService implements domain.ActivationService.
type activationService struct {
	payments   domain.PaymentRepository
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewActivationService creates the manual activation override.
func NewActivationService(payments domain.PaymentRepository, reconciler *Reconciler, logger *slog.Logger) domain.ActivationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &activationService{
		payments:   payments,
		reconciler: reconciler,
		logger:     logger.With("service", "activation"),
	}
}

// ActivateManually grants premium from an approved pending payment that the
// webhook path could not tie to a user.
//
// The payment is marked processed in the same write as the entitlement, so
// of two racing activations for one payment exactly one succeeds and the
// other returns domain.ErrPaymentAlreadyProcessed.
func (s *activationService) ActivateManually(ctx context.Context, userID, paymentID string) (*domain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	paymentID = strings.TrimSpace(paymentID)
	if userID == "" {
		return nil, s.fail("invalid", domain.ErrMissingUserID)
	}
	if paymentID == "" {
		return nil, s.fail("invalid", ErrMissingPaymentID)
	}

	pending, err := s.payments.GetPendingPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPendingPaymentNotFound) {
			return nil, s.fail("not_found", err)
		}
		return nil, s.fail("error", persistenceError(err))
	}
	if pending.Processed {
		return nil, s.fail("already_processed", domain.ErrPaymentAlreadyProcessed)
	}
	if !pending.Approved() {
		return nil, s.fail("not_approved", domain.ErrPaymentNotApproved)
	}

	res, err := s.reconciler.Reconcile(ctx, Event{
		UserID:                userID,
		Status:                domain.StatusAuthorized,
		Action:                domain.ActionManualActivation,
		EventID:               "manual:" + paymentID,
		ConsumePendingPayment: paymentID,
	})
	switch {
	case errors.Is(err, domain.ErrPaymentAlreadyProcessed):
		return nil, s.fail("already_processed", err)
	case errors.Is(err, domain.ErrPendingPaymentNotFound):
		return nil, s.fail("not_found", err)
	case err != nil:
		telemetry.CaptureErrorWithUser(err, userID, map[string]interface{}{"payment_id": paymentID})
		return nil, s.fail("error", err)
	case res.Duplicate:
		// The idempotency key is only recorded together with the consume.
		return nil, s.fail("already_processed", domain.ErrPaymentAlreadyProcessed)
	case res.Stale:
		return nil, s.fail("stale", ErrNewerEventApplied)
	}

	telemetry.Business.ManualActivations.WithLabelValues("success").Inc()
	s.logger.Info("premium activated manually",
		"user_id", userID,
		"payment_id", paymentID,
		"amount", pending.Amount.StringFixed(2),
		"currency", pending.Currency,
	)

	e := res.Entitlement
	return &e, nil
}

func (s *activationService) fail(outcome string, err error) error {
	telemetry.Business.ManualActivations.WithLabelValues(outcome).Inc()
	s.logger.Warn("manual activation rejected", "outcome", outcome, "error", err)
	return err
}

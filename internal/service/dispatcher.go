package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/gateway"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// Dispatcher routes gateway notifications to the reconciler. Notifications
// carry only a resource id, so every dispatch fetches live state from the
// gateway first.
type Dispatcher struct {
	provider      gateway.Provider
	subscriptions domain.SubscriptionRepository
	payments      domain.PaymentRepository
	reconciler    *Reconciler
	logger        *slog.Logger
	now           func() time.Time
}

var _ domain.WebhookDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	provider gateway.Provider,
	subscriptions domain.SubscriptionRepository,
	payments domain.PaymentRepository,
	reconciler *Reconciler,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		provider:      provider,
		subscriptions: subscriptions,
		payments:      payments,
		reconciler:    reconciler,
		logger:        logger.With("service", "dispatcher"),
		now:           time.Now,
	}
}

// Dispatch handles one notification.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	if n.DataID == "" {
		return ErrMissingDataID
	}

	switch n.Type {
	case domain.NotificationPreapproval:
		return d.dispatchPreapproval(ctx, n)
	case domain.NotificationPayment:
		return d.dispatchPayment(ctx, n)
	default:
		d.logger.Info("ignoring notification", "type", n.Type, "action", n.Action, "data_id", n.DataID)
		return nil
	}
}

func (d *Dispatcher) dispatchPreapproval(ctx context.Context, n domain.Notification) error {
	pre, err := d.provider.GetPreapproval(ctx, n.DataID)
	if err != nil {
		return gatewayError("get preapproval "+n.DataID, err)
	}

	status, err := domain.ParseGatewayStatus(pre.Status)
	if err != nil {
		d.logger.Warn("preapproval has unknown status", "subscription_id", pre.ID, "status", pre.Status)
		return err
	}

	cached, err := d.subscriptions.GetSubscription(ctx, pre.ID)
	if err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return persistenceError(err)
	}

	userID := pre.ExternalReference
	if userID == "" && cached != nil {
		userID = cached.UserID
	}

	sub := domain.Subscription{
		ID:              pre.ID,
		UserID:          userID,
		Status:          string(status),
		PlanID:          pre.PlanID,
		PayerEmail:      pre.PayerEmail,
		CreatedAt:       pre.DateCreated,
		LastModified:    pre.LastModified,
		NextBillingDate: pre.NextPaymentDate,
	}
	if err := d.subscriptions.UpsertSubscription(ctx, sub); err != nil {
		return persistenceError(err)
	}

	if userID == "" {
		d.logger.Warn("preapproval does not resolve to a user", "subscription_id", pre.ID, "status", status)
		return fmt.Errorf("%w: subscription %s", domain.ErrUnresolvedUser, pre.ID)
	}

	occurredAt := firstNonZero(pre.LastModified, pre.DateCreated, n.DateCreated)
	_, err = d.reconciler.Reconcile(ctx, Event{
		UserID:         userID,
		SubscriptionID: pre.ID,
		Status:         status,
		Action:         domain.ActionStatusUpdate,
		EventID:        eventID(n, occurredAt),
		OccurredAt:     occurredAt,
	})
	return err
}

func (d *Dispatcher) dispatchPayment(ctx context.Context, n domain.Notification) error {
	payment, err := d.provider.GetPayment(ctx, n.DataID)
	if err != nil {
		return gatewayError("get payment "+n.DataID, err)
	}

	userID := payment.UserID()
	if userID == "" && payment.SubscriptionID != "" {
		sub, err := d.subscriptions.GetSubscription(ctx, payment.SubscriptionID)
		switch {
		case err == nil:
			userID = sub.UserID
		case !errors.Is(err, domain.ErrSubscriptionNotFound):
			return persistenceError(err)
		}
	}

	if userID == "" {
		// Kept so the payer can claim it through manual activation.
		if err := d.payments.RecordPendingPayment(ctx, domain.PendingPayment{
			PaymentID:  payment.ID,
			Status:     payment.Status,
			Amount:     payment.Amount,
			Currency:   payment.Currency,
			PayerEmail: payment.PayerEmail,
		}); err != nil {
			return persistenceError(err)
		}
		telemetry.Business.PendingPayments.WithLabelValues(payment.Status).Inc()
		d.logger.Warn("payment does not resolve to a user, recorded as pending",
			"payment_id", payment.ID,
			"status", payment.Status,
		)
		return fmt.Errorf("%w: payment %s", domain.ErrUnresolvedUser, payment.ID)
	}

	if payment.Status != domain.PaymentStatusApproved {
		d.logger.Info("ignoring payment that is not approved",
			"payment_id", payment.ID,
			"user_id", userID,
			"status", payment.Status,
			"status_detail", payment.StatusDetail,
		)
		return nil
	}

	approvedAt := d.now().UTC()
	if payment.DateApproved != nil {
		approvedAt = payment.DateApproved.UTC()
	}

	if err := d.payments.RecordPayment(ctx, domain.Payment{
		ID:             payment.ID,
		UserID:         userID,
		SubscriptionID: payment.SubscriptionID,
		Status:         payment.Status,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		PayerEmail:     payment.PayerEmail,
		Metadata:       payment.Metadata,
		ApprovedAt:     &approvedAt,
	}); err != nil {
		return persistenceError(err)
	}

	if payment.SubscriptionID == "" {
		d.logger.Info("approved payment recorded", "payment_id", payment.ID, "user_id", userID)
		return nil
	}

	if err := d.recordSubscriptionPayment(ctx, payment, userID, approvedAt); err != nil {
		return persistenceError(err)
	}

	_, err = d.reconciler.Reconcile(ctx, Event{
		UserID:         userID,
		SubscriptionID: payment.SubscriptionID,
		Status:         domain.StatusAuthorized,
		Action:         domain.ActionStatusUpdate,
		EventID:        eventID(n, approvedAt),
		OccurredAt:     approvedAt,
	})
	return err
}

// recordSubscriptionPayment moves the billing date, creating the cached
// subscription when the payment notification arrives before the preapproval.
func (d *Dispatcher) recordSubscriptionPayment(ctx context.Context, payment *gateway.Payment, userID string, approvedAt time.Time) error {
	nextBilling := approvedAt.AddDate(0, domain.BillingCycleMonths, 0)

	err := d.subscriptions.RecordSubscriptionPayment(ctx, payment.SubscriptionID, payment.ID, approvedAt, nextBilling)
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return err
	}

	if err := d.subscriptions.UpsertSubscription(ctx, domain.Subscription{
		ID:              payment.SubscriptionID,
		UserID:          userID,
		Status:          string(domain.StatusAuthorized),
		PayerEmail:      payment.PayerEmail,
		CreatedAt:       approvedAt,
		LastModified:    approvedAt,
		NextBillingDate: &nextBilling,
	}); err != nil {
		return err
	}
	return d.subscriptions.RecordSubscriptionPayment(ctx, payment.SubscriptionID, payment.ID, approvedAt, nextBilling)
}

// eventID identifies a notification for deduplication. Mercado Pago retries
// keep the notification id. Without one, the resource id and its gateway
// timestamp stand in.
func eventID(n domain.Notification, stamp time.Time) string {
	if n.ID != "" {
		return n.ID
	}
	if stamp.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s:%d", n.Type, n.DataID, stamp.Unix())
}

func firstNonZero(times ...time.Time) time.Time {
	for _, t := range times {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// =============================================================================
// Subscriptions
// =============================================================================

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, plan_id, payer_email, created_at, last_modified,
		       next_billing_date, last_payment, last_payment_date
		FROM subscriptions WHERE id = $1`, id).Scan(
		&sub.ID, &sub.UserID, &sub.Status, &sub.PlanID, &sub.PayerEmail, &sub.CreatedAt, &sub.LastModified,
		&sub.NextBillingDate, &sub.LastPayment, &sub.LastPaymentDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, domain.Internal(err, "postgres.get_subscription", "failed to read subscription")
	}
	return &sub, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub domain.Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	lastModified := sub.LastModified
	if lastModified.IsZero() {
		lastModified = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, status, plan_id, payer_email, next_billing_date, last_modified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), subscriptions.user_id),
			status = EXCLUDED.status,
			plan_id = EXCLUDED.plan_id,
			payer_email = EXCLUDED.payer_email,
			next_billing_date = COALESCE(EXCLUDED.next_billing_date, subscriptions.next_billing_date),
			last_modified = EXCLUDED.last_modified`,
		sub.ID, sub.UserID, sub.Status, sub.PlanID, sub.PayerEmail, sub.NextBillingDate, lastModified, createdAt)
	if err != nil {
		return domain.Internal(err, "postgres.upsert_subscription", "failed to upsert subscription")
	}
	return nil
}

func (s *Store) RecordSubscriptionPayment(ctx context.Context, subscriptionID, paymentID string, paidAt, nextBilling time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			last_payment = $2,
			last_payment_date = $3,
			next_billing_date = $4,
			last_modified = NOW()
		WHERE id = $1`, subscriptionID, paymentID, paidAt, nextBilling)
	if err != nil {
		return domain.Internal(err, "postgres.record_subscription_payment", "failed to record subscription payment")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// =============================================================================
// Payments
// =============================================================================

func (s *Store) RecordPayment(ctx context.Context, p domain.Payment) error {
	metadata := []byte("{}")
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return domain.Internal(err, "postgres.record_payment", "failed to encode payment metadata")
		}
		metadata = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, user_id, subscription_id, status, amount, currency, payer_email, metadata, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			subscription_id = EXCLUDED.subscription_id,
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			payer_email = EXCLUDED.payer_email,
			metadata = EXCLUDED.metadata,
			approved_at = EXCLUDED.approved_at`,
		p.ID, p.UserID, p.SubscriptionID, p.Status, p.Amount, p.Currency, p.PayerEmail, metadata, p.ApprovedAt)
	if err != nil {
		return domain.Internal(err, "postgres.record_payment", "failed to record payment")
	}
	return nil
}

func (s *Store) GetPendingPayment(ctx context.Context, paymentID string) (*domain.PendingPayment, error) {
	var pp domain.PendingPayment
	err := s.pool.QueryRow(ctx, `
		SELECT payment_id, user_id, status, amount, currency, payer_email, processed, processed_at, created_at
		FROM pending_payments WHERE payment_id = $1`, paymentID).Scan(
		&pp.PaymentID, &pp.UserID, &pp.Status, &pp.Amount, &pp.Currency, &pp.PayerEmail,
		&pp.Processed, &pp.ProcessedAt, &pp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPendingPaymentNotFound
	}
	if err != nil {
		return nil, domain.Internal(err, "postgres.get_pending_payment", "failed to read pending payment")
	}
	return &pp, nil
}

func (s *Store) RecordPendingPayment(ctx context.Context, p domain.PendingPayment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_payments (payment_id, status, amount, currency, payer_email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			payer_email = EXCLUDED.payer_email
		WHERE NOT pending_payments.processed`,
		p.PaymentID, p.Status, p.Amount, p.Currency, p.PayerEmail)
	if err != nil {
		return domain.Internal(err, "postgres.record_pending_payment", "failed to record pending payment")
	}
	return nil
}

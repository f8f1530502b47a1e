// Package service holds the entitlement business logic: the status
// reconciler and the webhook dispatcher, expiry sweeper and manual activation
// built on top of it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// DefaultMaxAttempts bounds compare-and-swap retries per reconciliation.
const DefaultMaxAttempts = 3

// Event is one status change to apply to a user's entitlement.
type Event struct {
	UserID         string
	SubscriptionID string
	Status         domain.GatewayStatus

	// Action defaults to domain.ActionStatusUpdate.
	Action domain.AuditAction

	// EventID identifies the source event. Together with SubscriptionID and
	// Status it forms the idempotency key. Empty disables deduplication.
	EventID string

	// OccurredAt is the gateway timestamp of the change. Zero means now.
	OccurredAt time.Time

	// EvaluatedAt is the instant the transition is computed for. Expiry and
	// billing dates derive from it. Zero means the reconciler's clock.
	EvaluatedAt time.Time

	// ConsumePendingPayment marks this pending payment processed in the same
	// write.
	ConsumePendingPayment string
}

// IdempotencyKey returns the deduplication key for the event.
func (e Event) IdempotencyKey() string {
	if e.EventID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", e.SubscriptionID, e.Status, e.EventID)
}

// Result describes the outcome of a reconciliation.
type Result struct {
	// Applied is true when a new record and audit entry were written.
	Applied bool

	// Duplicate is true when the idempotency key was already recorded.
	Duplicate bool

	// Stale is true when the event is older than the last applied event.
	Stale bool

	// Entitlement is the record after the call. For duplicate events it is
	// the record as read before the write was attempted.
	Entitlement    domain.Entitlement
	PreviousStatus domain.GatewayStatus
}

// Reconciler applies gateway statuses to entitlement records.
type Reconciler struct {
	repo        domain.EntitlementRepository
	publisher   domain.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// NewReconciler creates a Reconciler. A nil publisher disables change events.
func NewReconciler(repo domain.EntitlementRepository, publisher domain.EventPublisher, logger *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		repo:        repo,
		publisher:   publisher,
		logger:      logger.With("service", "reconciler"),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile reads the user's record, applies the transition for ev.Status and
// writes the result with an audit entry. A concurrent write is retried from a
// fresh read up to the configured attempts.
//
// Store failures are returned wrapping domain.ErrPersistence, except the
// pending payment sentinels which are returned as is.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (*Result, error) {
	if ev.UserID == "" {
		return nil, domain.ErrMissingUserID
	}
	if !ev.Status.Valid() {
		return nil, domain.WrapError(domain.ErrUnknownStatus, domain.EINVALID, "reconciler.reconcile", "unknown gateway status: "+string(ev.Status))
	}
	if ev.Action == "" {
		ev.Action = domain.ActionStatusUpdate
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.now()
	}
	occurredAt = occurredAt.UTC()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		current, err := r.repo.GetEntitlement(ctx, ev.UserID)
		switch {
		case errors.Is(err, domain.ErrEntitlementNotFound):
			fresh := domain.NewEntitlement(ev.UserID)
			current = &fresh
		case err != nil:
			return nil, persistenceError(err)
		}

		if current.LastEventAt != nil && occurredAt.Before(*current.LastEventAt) {
			telemetry.Business.ReconciliationsSkipped.WithLabelValues("stale").Inc()
			r.logger.Info("stale event skipped",
				"user_id", ev.UserID,
				"status", ev.Status,
				"event_at", occurredAt,
				"last_event_at", *current.LastEventAt,
			)
			return &Result{Stale: true, Entitlement: *current, PreviousStatus: current.PremiumStatus}, nil
		}

		now := ev.EvaluatedAt
		if now.IsZero() {
			now = r.now()
		}
		now = now.UTC()
		next, err := current.Transition(ev.Status, ev.SubscriptionID, now)
		if err != nil {
			return nil, err
		}
		next.LastEventAt = &occurredAt
		next.Version = current.Version + 1

		params := domain.TransitionParams{
			ExpectedVersion: current.Version,
			Next:            next,
			Audit: domain.AuditEntry{
				ID:             uuid.NewString(),
				UserID:         ev.UserID,
				SubscriptionID: next.SubscriptionID,
				Status:         ev.Status,
				PreviousStatus: current.PremiumStatus,
				Action:         ev.Action,
				IsPremium:      next.IsPremium,
				EventAt:        occurredAt,
				UpdatedAt:      now,
			},
			IdempotencyKey:        ev.IdempotencyKey(),
			ConsumePendingPayment: ev.ConsumePendingPayment,
		}

		err = r.repo.ApplyTransition(ctx, params)
		switch {
		case err == nil:
			r.applied(ctx, ev, current.PremiumStatus, next, occurredAt)
			return &Result{Applied: true, Entitlement: next, PreviousStatus: current.PremiumStatus}, nil

		case errors.Is(err, domain.ErrVersionConflict):
			telemetry.Business.VersionConflicts.WithLabelValues(string(ev.Action)).Inc()
			r.logger.Debug("version conflict, retrying",
				"user_id", ev.UserID,
				"attempt", attempt,
				"expected_version", current.Version,
			)
			continue

		case errors.Is(err, domain.ErrDuplicateEvent):
			telemetry.Business.ReconciliationsSkipped.WithLabelValues("duplicate").Inc()
			r.logger.Info("duplicate event skipped",
				"user_id", ev.UserID,
				"idempotency_key", params.IdempotencyKey,
			)
			return &Result{Duplicate: true, Entitlement: *current, PreviousStatus: current.PremiumStatus}, nil

		default:
			return nil, persistenceError(err)
		}
	}

	telemetry.Business.ReconciliationsSkipped.WithLabelValues("conflict").Inc()
	return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, ErrTooManyConflicts)
}

func (r *Reconciler) applied(ctx context.Context, ev Event, previous domain.GatewayStatus, next domain.Entitlement, occurredAt time.Time) {
	telemetry.Business.ReconciliationsApplied.WithLabelValues(string(ev.Status), string(ev.Action)).Inc()

	r.logger.Info("entitlement reconciled",
		"user_id", ev.UserID,
		"subscription_id", next.SubscriptionID,
		"previous_status", previous,
		"status", ev.Status,
		"action", ev.Action,
		"is_premium", next.IsPremium,
		"version", next.Version,
	)

	if r.publisher == nil {
		return
	}
	err := r.publisher.PublishEntitlementChanged(ctx, domain.EntitlementChanged{
		UserID:           ev.UserID,
		SubscriptionID:   next.SubscriptionID,
		PreviousStatus:   previous,
		Status:           ev.Status,
		Action:           ev.Action,
		IsPremium:        next.IsPremium,
		PremiumExpiresAt: next.PremiumExpiresAt,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		r.logger.Warn("failed to publish entitlement change", "user_id", ev.UserID, "error", err)
	}
}

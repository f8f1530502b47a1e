package domain

import (
	"context"
	"time"
)

// TransitionParams describes one compare-and-swap write of an entitlement.
type TransitionParams struct {
	// ExpectedVersion is the version the caller read. Zero inserts a new record.
	ExpectedVersion int64

	// Next is the record to store. Next.Version must be ExpectedVersion+1.
	Next Entitlement

	// Audit is appended in the same transaction.
	Audit AuditEntry

	// IdempotencyKey, when set, is recorded in the same transaction. A key
	// that already exists fails the write with ErrDuplicateEvent.
	IdempotencyKey string

	// ConsumePendingPayment, when set, marks that pending payment processed in
	// the same transaction. A payment already processed fails the write with
	// ErrPaymentAlreadyProcessed.
	ConsumePendingPayment string
}

// ExpiryCursor is a keyset position in the expired listing.
type ExpiryCursor struct {
	ExpiresAt time.Time
	UserID    string
}

// CursorOf returns the listing position of e.
func CursorOf(e Entitlement) ExpiryCursor {
	c := ExpiryCursor{UserID: e.UserID}
	if e.PremiumExpiresAt != nil {
		c.ExpiresAt = *e.PremiumExpiresAt
	}
	return c
}

// Less orders cursors by expiry, then user id.
func (c ExpiryCursor) Less(o ExpiryCursor) bool {
	if !c.ExpiresAt.Equal(o.ExpiresAt) {
		return c.ExpiresAt.Before(o.ExpiresAt)
	}
	return c.UserID < o.UserID
}

// EntitlementRepository persists entitlement records and their audit trail.
type EntitlementRepository interface {
	// GetEntitlement returns ErrEntitlementNotFound when the user has no record.
	GetEntitlement(ctx context.Context, userID string) (*Entitlement, error)

	// ListExpiredEntitlements returns premium records whose expiry is at or
	// before now and sorts strictly after the cursor, ordered by
	// (expiry, user id). The zero cursor starts from the beginning.
	ListExpiredEntitlements(ctx context.Context, now time.Time, after ExpiryCursor, limit int) ([]Entitlement, error)

	// ApplyTransition writes params.Next if the stored version still equals
	// params.ExpectedVersion, otherwise returns ErrVersionConflict.
	ApplyTransition(ctx context.Context, params TransitionParams) error

	// ListAuditEntries returns a user's audit entries, newest first.
	ListAuditEntries(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
}

// SubscriptionRepository persists the cached gateway subscriptions.
type SubscriptionRepository interface {
	// GetSubscription returns ErrSubscriptionNotFound when absent.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)

	// UpsertSubscription creates or updates the record. CreatedAt and the
	// last payment fields of an existing record are kept.
	UpsertSubscription(ctx context.Context, sub Subscription) error

	// RecordSubscriptionPayment stores the last payment and moves the next
	// billing date. Returns ErrSubscriptionNotFound when absent.
	RecordSubscriptionPayment(ctx context.Context, subscriptionID, paymentID string, paidAt, nextBilling time.Time) error
}

// PaymentRepository persists payments and pending payments.
type PaymentRepository interface {
	// RecordPayment creates or replaces the payment with the same id.
	RecordPayment(ctx context.Context, p Payment) error

	// GetPendingPayment returns ErrPendingPaymentNotFound when absent.
	GetPendingPayment(ctx context.Context, paymentID string) (*PendingPayment, error)

	// RecordPendingPayment creates the pending payment, or refreshes its
	// status while it is still unprocessed.
	RecordPendingPayment(ctx context.Context, p PendingPayment) error
}

// JobQueue is a durable queue of background jobs.
type JobQueue interface {
	EnqueueJob(ctx context.Context, params EnqueueJobParams) (*Job, error)

	// ClaimNextJob marks the oldest due pending job in queue as running.
	// Returns ErrNoJobAvailable when nothing is due.
	ClaimNextJob(ctx context.Context, workerID, queue string, now time.Time) (*Job, error)

	CompleteJob(ctx context.Context, id string) error

	// FailJob records a failed attempt. The job is rescheduled at retryAt
	// while attempts remain, otherwise it is left in JobStatusFailed. A zero
	// retryAt fails the job regardless of attempts.
	FailJob(ctx context.Context, id, message string, retryAt time.Time) (*Job, error)
}

// Store bundles every repository behind one backend.
type Store interface {
	EntitlementRepository
	SubscriptionRepository
	PaymentRepository
	JobQueue

	Ping(ctx context.Context) error
}

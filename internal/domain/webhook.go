package domain

import (
	"context"
	"time"
)

// Gateway notification types handled by the dispatcher.
const (
	NotificationPreapproval = "subscription_preapproval"
	NotificationPayment     = "payment"
)

// Notification is a webhook callback from the gateway. It only carries the
// resource id; the dispatcher fetches live state from the gateway.
type Notification struct {
	// ID is the gateway's notification id, used for idempotency.
	ID string `json:"id,omitempty"`

	Type   string `json:"type"`
	Action string `json:"action,omitempty"`

	// DataID is the id of the preapproval or payment.
	DataID string `json:"data_id"`

	DateCreated time.Time `json:"date_created,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

// WebhookDispatcher classifies gateway notifications and routes them to the
// reconciler.
type WebhookDispatcher interface {
	// Dispatch returns an error wrapping ErrGatewayLookup, ErrUnresolvedUser
	// or ErrPersistence on failure. Unknown notification types are ignored.
	Dispatch(ctx context.Context, n Notification) error
}

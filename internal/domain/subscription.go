package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Subscription mirrors the gateway's subscription (preapproval) object.
// The gateway is authoritative; this copy exists to resolve subscription ids
// to users and to track billing dates.
type Subscription struct {
	ID              string
	UserID          string
	Status          string
	PlanID          string
	PayerEmail      string
	CreatedAt       time.Time
	LastModified    time.Time
	NextBillingDate *time.Time
	LastPayment     string
	LastPaymentDate *time.Time
}

// Payment is an approved payment recorded from a gateway notification.
type Payment struct {
	ID             string
	UserID         string
	SubscriptionID string
	Status         string
	Amount         decimal.Decimal
	Currency       string
	PayerEmail     string
	Metadata       map[string]any
	ApprovedAt     *time.Time
	CreatedAt      time.Time
}

// PendingPayment is a payment that could not be tied to a user when its
// notification arrived. A user claims it through manual activation.
type PendingPayment struct {
	PaymentID   string
	UserID      string
	Status      string
	Amount      decimal.Decimal
	Currency    string
	PayerEmail  string
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// PaymentStatusApproved is the gateway status of a settled payment.
const PaymentStatusApproved = "approved"

// Approved reports whether the payment settled.
func (p PendingPayment) Approved() bool {
	return p.Status == PaymentStatusApproved
}

// ActivationService grants premium from an approved payment when the webhook
// path could not.
type ActivationService interface {
	ActivateManually(ctx context.Context, userID, paymentID string) (*Entitlement, error)
}

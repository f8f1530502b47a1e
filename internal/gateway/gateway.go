// Package gateway talks to the payment gateway (Mercado Pago) that owns
// subscription and payment state.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider fetches live subscription and payment state from the gateway.
// Implementations: MercadoPagoProvider (production), MockProvider (testing).
type Provider interface {
	// GetPreapproval fetches a subscription (preapproval) by id.
	// Returns ErrNotFound when the gateway does not know the id.
	GetPreapproval(ctx context.Context, id string) (*Preapproval, error)

	// GetPayment fetches a payment by id.
	// Returns ErrNotFound when the gateway does not know the id.
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Preapproval is a gateway subscription.
type Preapproval struct {
	ID                string
	Status            string
	PayerEmail        string
	ExternalReference string // application user id set at checkout
	PlanID            string
	Reason            string
	NextPaymentDate   *time.Time
	DateCreated       time.Time
	LastModified      time.Time
}

// Payment is a gateway payment.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	PayerEmail        string
	Amount            decimal.Decimal
	Currency          string

	// SubscriptionID is set when the payment was charged by a preapproval.
	SubscriptionID string

	Metadata     map[string]any
	DateCreated  time.Time
	DateApproved *time.Time
	LastUpdated  time.Time
}

// UserID returns the application user id carried by the payment, looking at
// the external reference first and the checkout metadata second.
func (p *Payment) UserID() string {
	if p.ExternalReference != "" {
		return p.ExternalReference
	}
	if v, ok := p.Metadata["user_id"].(string); ok {
		return v
	}
	return ""
}

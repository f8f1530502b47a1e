package domain

import (
	"context"
	"strings"
	"time"
)

// GatewayStatus is the subscription status last reported by the payment gateway.
type GatewayStatus string

const (
	StatusAuthorized  GatewayStatus = "authorized"
	StatusCancelled   GatewayStatus = "cancelled"
	StatusPaused      GatewayStatus = "paused"
	StatusPending     GatewayStatus = "pending"
	StatusInMediation GatewayStatus = "in_mediation"
	StatusRejected    GatewayStatus = "rejected"
	StatusExpired     GatewayStatus = "expired"
)

// AllGatewayStatuses lists every status the reconciler accepts.
var AllGatewayStatuses = []GatewayStatus{
	StatusAuthorized,
	StatusCancelled,
	StatusPaused,
	StatusPending,
	StatusInMediation,
	StatusRejected,
	StatusExpired,
}

// ParseGatewayStatus normalizes a raw gateway status string.
// Mercado Pago spells cancellation both ways depending on the resource.
func ParseGatewayStatus(raw string) (GatewayStatus, error) {
	s := GatewayStatus(strings.ToLower(strings.TrimSpace(raw)))
	if s == "canceled" {
		s = StatusCancelled
	}
	if s.Class() == ClassUnknown {
		return "", WrapError(ErrUnknownStatus, EINVALID, "status.parse", "unknown gateway status: "+raw)
	}
	return s, nil
}

// TransitionClass groups gateway statuses by their effect on an entitlement.
type TransitionClass int

const (
	ClassUnknown TransitionClass = iota

	// ClassRenew unlocks premium indefinitely and starts a new billing cycle.
	ClassRenew

	// ClassGraceUntilBilling keeps premium until the next billing date.
	ClassGraceUntilBilling

	// ClassGraceFixed keeps premium for GracePeriod.
	ClassGraceFixed

	// ClassRevoke removes premium immediately.
	ClassRevoke
)

func (c TransitionClass) String() string {
	switch c {
	case ClassRenew:
		return "renew"
	case ClassGraceUntilBilling:
		return "grace_until_billing"
	case ClassGraceFixed:
		return "grace_fixed"
	case ClassRevoke:
		return "revoke"
	}
	return "unknown"
}

// Class maps the status to its transition class. Every constant above must
// appear here; a status added without a case stays ClassUnknown and is
// rejected by Transition.
func (s GatewayStatus) Class() TransitionClass {
	switch s {
	case StatusAuthorized:
		return ClassRenew
	case StatusCancelled, StatusPaused:
		return ClassGraceUntilBilling
	case StatusPending, StatusInMediation:
		return ClassGraceFixed
	case StatusRejected, StatusExpired:
		return ClassRevoke
	}
	return ClassUnknown
}

// Valid reports whether s is a known gateway status.
func (s GatewayStatus) Valid() bool {
	return s.Class() != ClassUnknown
}

func (s GatewayStatus) String() string {
	return string(s)
}

// Entitlement business rules. These windows decide how long paying users
// keep access while the gateway sorts out a payment; do not change them
// without a product decision.
const (
	// GracePeriod applies to pending and in_mediation statuses.
	GracePeriod = 7 * 24 * time.Hour

	// BillingCycleMonths is the length of one subscription period.
	BillingCycleMonths = 1
)

// Entitlement is the per-user record that decides whether premium features
// are unlocked.
//
// IsPremium implies PremiumExpiresAt is nil or was in the future
// when the record was written. The sweeper flips IsPremium once the expiry
// has passed, so a record may be stale between expiry and the next sweep.
type Entitlement struct {
	UserID                 string
	IsPremium              bool
	PremiumStatus          GatewayStatus
	SubscriptionID         string
	PremiumActivatedAt     *time.Time
	PremiumExpiresAt       *time.Time
	NextBillingDate        *time.Time
	LastSubscriptionUpdate time.Time

	// LastEventAt is the gateway timestamp of the last applied event.
	// Events older than this are stale and are not applied.
	LastEventAt *time.Time

	// Version increments on every write and guards compare-and-swap updates.
	// Zero means the record does not exist yet.
	Version int64
}

// NewEntitlement returns the record a user starts with at signup.
func NewEntitlement(userID string) Entitlement {
	return Entitlement{UserID: userID}
}

// ActiveAt reports whether premium features are unlocked at t, ignoring
// a stale IsPremium flag whose expiry has already passed.
func (e Entitlement) ActiveAt(t time.Time) bool {
	return e.IsPremium && (e.PremiumExpiresAt == nil || e.PremiumExpiresAt.After(t))
}

// ExpiredAt reports whether the sweeper should demote the record at t.
func (e Entitlement) ExpiredAt(t time.Time) bool {
	return e.IsPremium && e.PremiumExpiresAt != nil && !e.PremiumExpiresAt.After(t)
}

// Transition computes the record that results from applying status at now.
// The receiver is not modified. subscriptionID replaces the back-reference
// when non-empty.
func (e Entitlement) Transition(status GatewayStatus, subscriptionID string, now time.Time) (Entitlement, error) {
	next := e

	switch status.Class() {
	case ClassRenew:
		next.IsPremium = true
		if next.PremiumActivatedAt == nil {
			next.PremiumActivatedAt = timePtr(now)
		}
		next.PremiumExpiresAt = nil
		next.NextBillingDate = timePtr(now.AddDate(0, BillingCycleMonths, 0))

	case ClassGraceUntilBilling:
		switch {
		case e.NextBillingDate == nil:
			next.IsPremium = true
			next.PremiumExpiresAt = timePtr(now.AddDate(0, BillingCycleMonths, 0))
		case e.NextBillingDate.After(now):
			next.IsPremium = true
			next.PremiumExpiresAt = timePtr(*e.NextBillingDate)
		default:
			// The paid period already ended, so there is no grace left.
			next.IsPremium = false
			next.PremiumExpiresAt = timePtr(now)
		}

	case ClassGraceFixed:
		next.IsPremium = true
		next.PremiumExpiresAt = timePtr(now.Add(GracePeriod))

	case ClassRevoke:
		next.IsPremium = false
		next.PremiumExpiresAt = timePtr(now)

	default:
		return e, WrapError(ErrUnknownStatus, EINVALID, "entitlement.transition", "unknown gateway status: "+string(status))
	}

	next.PremiumStatus = status
	if subscriptionID != "" {
		next.SubscriptionID = subscriptionID
	}
	next.LastSubscriptionUpdate = now

	return next, nil
}

// EntitlementView holds the fields the frontend reads to gate premium features.
type EntitlementView struct {
	UserID           string        `json:"userId"`
	IsPremium        bool          `json:"isPremium"`
	PremiumStatus    GatewayStatus `json:"premiumStatus,omitempty"`
	PremiumExpiresAt *time.Time    `json:"premiumExpiresAt"`
	NextBillingDate  *time.Time    `json:"nextBillingDate"`
}

// View returns the frontend projection of the record.
func (e Entitlement) View() EntitlementView {
	return EntitlementView{
		UserID:           e.UserID,
		IsPremium:        e.IsPremium,
		PremiumStatus:    e.PremiumStatus,
		PremiumExpiresAt: e.PremiumExpiresAt,
		NextBillingDate:  e.NextBillingDate,
	}
}

// EntitlementChanged is published after every applied transition.
type EntitlementChanged struct {
	UserID           string        `json:"userId"`
	SubscriptionID   string        `json:"subscriptionId,omitempty"`
	PreviousStatus   GatewayStatus `json:"previousStatus,omitempty"`
	Status           GatewayStatus `json:"status"`
	Action           AuditAction   `json:"action"`
	IsPremium        bool          `json:"isPremium"`
	PremiumExpiresAt *time.Time    `json:"premiumExpiresAt"`
	OccurredAt       time.Time     `json:"occurredAt"`
}

// EventPublisher delivers entitlement change notifications to downstream
// consumers. Delivery is best effort.
type EventPublisher interface {
	PublishEntitlementChanged(ctx context.Context, event EntitlementChanged) error
}

// EntitlementService exposes entitlement state to the frontend.
type EntitlementService interface {
	// GetEntitlement returns the user's current entitlement. Users without a
	// record yet are reported as non-premium.
	GetEntitlement(ctx context.Context, userID string) (*EntitlementView, error)

	// ListHistory returns the user's audit entries, newest first.
	ListHistory(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

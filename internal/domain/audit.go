package domain

import "time"

// AuditAction identifies what produced an audit entry.
type AuditAction string

const (
	ActionStatusUpdate     AuditAction = "status_update"
	ActionAutoExpire       AuditAction = "auto_expire"
	ActionManualActivation AuditAction = "manual_activation"
)

// AuditEntry records one applied reconciliation. Entries are append-only.
type AuditEntry struct {
	ID             string
	UserID         string
	SubscriptionID string
	Status         GatewayStatus
	PreviousStatus GatewayStatus
	Action         AuditAction
	IsPremium      bool
	EventAt        time.Time
	UpdatedAt      time.Time
}

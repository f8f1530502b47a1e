// Package postgres implements domain.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// Store implements domain.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure Store implements domain.Store.
var _ domain.Store = (*Store)(nil)

// NewStore creates a Store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect creates a pool from a connection string and verifies it.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// Entitlements
// =============================================================================

const entitlementColumns = `user_id, is_premium, premium_status, subscription_id,
	premium_activated_at, premium_expires_at, next_billing_date,
	last_subscription_update, last_event_at, version`

func (s *Store) GetEntitlement(ctx context.Context, userID string) (*domain.Entitlement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`, userID)

	e, err := scanEntitlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntitlementNotFound
	}
	if err != nil {
		return nil, domain.Internal(err, "postgres.get_entitlement", "failed to read entitlement")
	}
	return e, nil
}

func (s *Store) ListExpiredEntitlements(ctx context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]domain.Entitlement, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+entitlementColumns+`
		FROM entitlements
		WHERE is_premium
		  AND premium_expires_at IS NOT NULL
		  AND premium_expires_at <= $1
		  AND (premium_expires_at, user_id) > ($2, $3)
		ORDER BY premium_expires_at, user_id
		LIMIT $4`, now, after.ExpiresAt, after.UserID, limit)
	if err != nil {
		return nil, domain.Internal(err, "postgres.list_expired", "failed to list expired entitlements")
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, domain.Internal(err, "postgres.list_expired", "failed to scan entitlement")
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "postgres.list_expired", "failed to iterate entitlements")
	}
	return out, nil
}

// ApplyTransition runs the idempotency insert, the compare-and-swap write,
// the optional pending payment consume and the audit insert in one
// transaction. Any failed check rolls back every effect.
func (s *Store) ApplyTransition(ctx context.Context, params domain.TransitionParams) error {
	const op = "postgres.apply_transition"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if params.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO processed_events (idempotency_key) VALUES ($1) ON CONFLICT DO NOTHING`,
			params.IdempotencyKey)
		if err != nil {
			return domain.Internal(err, op, "failed to record idempotency key")
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrDuplicateEvent
		}
	}

	n := params.Next
	version := params.ExpectedVersion + 1

	var written int64
	if params.ExpectedVersion == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO entitlements (
				user_id, is_premium, premium_status, subscription_id,
				premium_activated_at, premium_expires_at, next_billing_date,
				last_subscription_update, last_event_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id) DO NOTHING`,
			n.UserID, n.IsPremium, string(n.PremiumStatus), n.SubscriptionID,
			n.PremiumActivatedAt, n.PremiumExpiresAt, n.NextBillingDate,
			n.LastSubscriptionUpdate, n.LastEventAt, version)
		if err != nil {
			return domain.Internal(err, op, "failed to insert entitlement")
		}
		written = tag.RowsAffected()
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE entitlements SET
				is_premium = $2,
				premium_status = $3,
				subscription_id = $4,
				premium_activated_at = $5,
				premium_expires_at = $6,
				next_billing_date = $7,
				last_subscription_update = $8,
				last_event_at = $9,
				version = $10,
				updated_at = NOW()
			WHERE user_id = $1 AND version = $11`,
			n.UserID, n.IsPremium, string(n.PremiumStatus), n.SubscriptionID,
			n.PremiumActivatedAt, n.PremiumExpiresAt, n.NextBillingDate,
			n.LastSubscriptionUpdate, n.LastEventAt, version, params.ExpectedVersion)
		if err != nil {
			return domain.Internal(err, op, "failed to update entitlement")
		}
		written = tag.RowsAffected()
	}
	if written == 0 {
		return domain.ErrVersionConflict
	}

	if params.ConsumePendingPayment != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE pending_payments
			SET processed = TRUE, processed_at = NOW(), user_id = $2
			WHERE payment_id = $1 AND NOT processed`,
			params.ConsumePendingPayment, n.UserID)
		if err != nil {
			return domain.Internal(err, op, "failed to consume pending payment")
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM pending_payments WHERE payment_id = $1)`,
				params.ConsumePendingPayment).Scan(&exists); err != nil {
				return domain.Internal(err, op, "failed to check pending payment")
			}
			if !exists {
				return domain.ErrPendingPaymentNotFound
			}
			return domain.ErrPaymentAlreadyProcessed
		}
	}

	a := params.Audit
	if a.ID == "" {
		return domain.Invalid(op, "audit entry id is required")
	}
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO entitlement_audit (
			id, user_id, subscription_id, status, previous_status, action, is_premium, event_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.UserID, a.SubscriptionID, string(a.Status), string(a.PreviousStatus),
		string(a.Action), a.IsPremium, a.EventAt, updatedAt); err != nil {
		return domain.Internal(err, op, "failed to insert audit entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, op, "failed to commit transition")
	}
	return nil
}

func (s *Store) ListAuditEntries(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, subscription_id, status, previous_status, action, is_premium, event_at, updated_at
		FROM entitlement_audit
		WHERE user_id = $1
		ORDER BY updated_at DESC, event_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, domain.Internal(err, "postgres.list_audit", "failed to list audit entries")
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			a                        domain.AuditEntry
			status, previous, action string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.SubscriptionID, &status, &previous, &action, &a.IsPremium, &a.EventAt, &a.UpdatedAt); err != nil {
			return nil, domain.Internal(err, "postgres.list_audit", "failed to scan audit entry")
		}
		a.Status = domain.GatewayStatus(status)
		a.PreviousStatus = domain.GatewayStatus(previous)
		a.Action = domain.AuditAction(action)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "postgres.list_audit", "failed to iterate audit entries")
	}
	return out, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// scanEntitlement reads one row selected with entitlementColumns.
func scanEntitlement(row pgx.Row) (*domain.Entitlement, error) {
	var (
		e      domain.Entitlement
		status string
	)
	if err := row.Scan(
		&e.UserID, &e.IsPremium, &status, &e.SubscriptionID,
		&e.PremiumActivatedAt, &e.PremiumExpiresAt, &e.NextBillingDate,
		&e.LastSubscriptionUpdate, &e.LastEventAt, &e.Version,
	); err != nil {
		return nil, err
	}
	e.PremiumStatus = domain.GatewayStatus(status)
	return &e, nil
}

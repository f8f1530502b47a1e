package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// DefaultHistoryLimit caps history responses when the caller passes no limit.
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the largest page ListHistory returns.
const MaxHistoryLimit = 200

type entitlementService struct {
	repo domain.EntitlementRepository
	now  func() time.Time
}

// NewEntitlementService creates the read side used by the frontend.
func NewEntitlementService(repo domain.EntitlementRepository) domain.EntitlementService {
	return &entitlementService{repo: repo, now: time.Now}
}

// GetEntitlement returns the frontend view. A record whose expiry passed but
// was not swept yet is reported as not premium.
func (s *entitlementService) GetEntitlement(ctx context.Context, userID string) (*domain.EntitlementView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	e, err := s.repo.GetEntitlement(ctx, userID)
	if errors.Is(err, domain.ErrEntitlementNotFound) {
		fresh := domain.NewEntitlement(userID)
		e = &fresh
	} else if err != nil {
		return nil, err
	}

	view := e.View()
	view.IsPremium = e.ActiveAt(s.now())
	return &view, nil
}

func (s *entitlementService) ListHistory(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	entries, err := s.repo.ListAuditEntries(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, nil
}

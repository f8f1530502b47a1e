// Package memstore is an in-memory domain.Store for tests and local runs
// without Postgres. Every method takes one lock, so ApplyTransition is atomic
// in the same way the Postgres transaction is.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// Store implements domain.Store in memory.
type Store struct {
	mu sync.Mutex

	entitlements    map[string]domain.Entitlement
	audit           []domain.AuditEntry
	processedEvents map[string]time.Time
	subscriptions   map[string]domain.Subscription
	payments        map[string]domain.Payment
	pending         map[string]domain.PendingPayment
	jobs            []*domain.Job

	now func() time.Time

	// FailNextWrites makes the next n ApplyTransition calls fail with a
	// persistence error. Tests use it to exercise the dead-letter path.
	FailNextWrites int
}

var _ domain.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		entitlements:    make(map[string]domain.Entitlement),
		processedEvents: make(map[string]time.Time),
		subscriptions:   make(map[string]domain.Subscription),
		payments:        make(map[string]domain.Payment),
		pending:         make(map[string]domain.PendingPayment),
		now:             time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// =============================================================================
// Entitlements
// =============================================================================

func (s *Store) GetEntitlement(ctx context.Context, userID string) (*domain.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entitlements[userID]
	if !ok {
		return nil, domain.ErrEntitlementNotFound
	}
	return &e, nil
}

func (s *Store) ListExpiredEntitlements(ctx context.Context, now time.Time, after domain.ExpiryCursor, limit int) ([]domain.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Entitlement
	for _, e := range s.entitlements {
		if e.ExpiredAt(now) && after.Less(domain.CursorOf(e)) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return domain.CursorOf(out[i]).Less(domain.CursorOf(out[j]))
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ApplyTransition(ctx context.Context, params domain.TransitionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextWrites > 0 {
		s.FailNextWrites--
		return domain.Internal(nil, "memstore.apply", "simulated write failure")
	}

	if params.IdempotencyKey != "" {
		if _, seen := s.processedEvents[params.IdempotencyKey]; seen {
			return domain.ErrDuplicateEvent
		}
	}

	userID := params.Next.UserID
	current, exists := s.entitlements[userID]
	switch {
	case params.ExpectedVersion == 0 && exists:
		return domain.ErrVersionConflict
	case params.ExpectedVersion != 0 && (!exists || current.Version != params.ExpectedVersion):
		return domain.ErrVersionConflict
	}

	var consumed *domain.PendingPayment
	if params.ConsumePendingPayment != "" {
		pp, ok := s.pending[params.ConsumePendingPayment]
		if !ok {
			return domain.ErrPendingPaymentNotFound
		}
		if pp.Processed {
			return domain.ErrPaymentAlreadyProcessed
		}
		processedAt := s.now()
		pp.Processed = true
		pp.ProcessedAt = &processedAt
		pp.UserID = userID
		consumed = &pp
	}

	// All checks passed; commit every effect together.
	next := params.Next
	next.Version = params.ExpectedVersion + 1
	s.entitlements[userID] = next

	if params.IdempotencyKey != "" {
		s.processedEvents[params.IdempotencyKey] = s.now()
	}
	if consumed != nil {
		s.pending[consumed.PaymentID] = *consumed
	}

	audit := params.Audit
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	s.audit = append(s.audit, audit)

	return nil
}

func (s *Store) ListAuditEntries(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].UserID != userID {
			continue
		}
		out = append(out, s.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subscriptions[sub.ID]; ok {
		sub.CreatedAt = existing.CreatedAt
		sub.LastPayment = existing.LastPayment
		sub.LastPaymentDate = existing.LastPaymentDate
		if sub.UserID == "" {
			sub.UserID = existing.UserID
		}
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}

	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *Store) RecordSubscriptionPayment(ctx context.Context, subscriptionID, paymentID string, paidAt, nextBilling time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}

	sub.LastPayment = paymentID
	sub.LastPaymentDate = &paidAt
	sub.NextBillingDate = &nextBilling
	sub.LastModified = s.now()
	s.subscriptions[subscriptionID] = sub
	return nil
}

// =============================================================================
// Payments
// =============================================================================

func (s *Store) RecordPayment(ctx context.Context, p domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.payments[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.payments[p.ID] = p
	return nil
}

// Payment returns a recorded payment. Test helper.
func (s *Store) Payment(id string) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	return p, ok
}

func (s *Store) GetPendingPayment(ctx context.Context, paymentID string) (*domain.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pp, ok := s.pending[paymentID]
	if !ok {
		return nil, domain.ErrPendingPaymentNotFound
	}
	return &pp, nil
}

func (s *Store) RecordPendingPayment(ctx context.Context, p domain.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[p.PaymentID]; ok {
		if existing.Processed {
			return nil
		}
		existing.Status = p.Status
		existing.Amount = p.Amount
		existing.Currency = p.Currency
		existing.PayerEmail = p.PayerEmail
		s.pending[p.PaymentID] = existing
		return nil
	}

	p.Processed = false
	p.ProcessedAt = nil
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.pending[p.PaymentID] = p
	return nil
}

// =============================================================================
// Job queue
// =============================================================================

func (s *Store) EnqueueJob(ctx context.Context, params domain.EnqueueJobParams) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	scheduledAt := params.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	job := &domain.Job{
		ID:             uuid.NewString(),
		JobType:        params.JobType,
		Queue:          params.Queue,
		Payload:        append([]byte(nil), params.Payload...),
		Status:         domain.JobStatusPending,
		MaxRetries:     params.MaxRetries,
		TimeoutSeconds: params.TimeoutSeconds,
		ScheduledAt:    scheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.jobs = append(s.jobs, job)

	cp := *job
	return &cp, nil
}

func (s *Store) ClaimNextJob(ctx context.Context, workerID, queue string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Job
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusPending || j.ScheduledAt.After(now) {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		if next == nil || j.ScheduledAt.Before(next.ScheduledAt) {
			next = j
		}
	}
	if next == nil {
		return nil, domain.ErrNoJobAvailable
	}

	next.Status = domain.JobStatusRunning
	next.WorkerID = workerID
	next.Attempts++
	next.UpdatedAt = now

	cp := *next
	return &cp, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.findJob(id)
	if j == nil {
		return domain.ErrJobNotFound
	}
	j.Status = domain.JobStatusCompleted
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) FailJob(ctx context.Context, id, message string, retryAt time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.findJob(id)
	if j == nil {
		return nil, domain.ErrJobNotFound
	}

	j.LastError = message
	j.WorkerID = ""
	j.UpdatedAt = s.now()
	if !retryAt.IsZero() && j.Attempts <= j.MaxRetries {
		j.Status = domain.JobStatusPending
		j.ScheduledAt = retryAt
	} else {
		j.Status = domain.JobStatusFailed
	}

	cp := *j
	return &cp, nil
}

// Jobs returns a snapshot of every job. Test helper.
func (s *Store) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

func (s *Store) findJob(id string) *domain.Job {
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

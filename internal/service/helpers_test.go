package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/gateway"
	"github.com/oraculocultural/oraculo/internal/memstore"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// testClock is a settable time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EntitlementChanged
	err    error
}

func (p *recordingPublisher) PublishEntitlementChanged(ctx context.Context, event domain.EntitlementChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []domain.EntitlementChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EntitlementChanged(nil), p.events...)
}

type testEnv struct {
	store      *memstore.Store
	provider   *gateway.MockProvider
	publisher  *recordingPublisher
	clock      *testClock
	reconciler *Reconciler
	dispatcher *Dispatcher
	sweeper    *Sweeper
	activation domain.ActivationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		store:     memstore.New(),
		provider:  gateway.NewMockProvider(),
		publisher: &recordingPublisher{},
		clock:     &testClock{t: baseTime},
	}
	env.reconciler = NewReconciler(env.store, env.publisher, logger, WithClock(env.clock.Now))
	env.dispatcher = NewDispatcher(env.provider, env.store, env.store, env.reconciler, logger)
	env.dispatcher.now = env.clock.Now
	env.sweeper = NewSweeper(env.store, env.reconciler, logger)
	env.activation = NewActivationService(env.store, env.reconciler, logger)
	return env
}

func (e *testEnv) entitlement(t *testing.T, userID string) domain.Entitlement {
	t.Helper()
	got, err := e.store.GetEntitlement(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetEntitlement(%s): %v", userID, err)
	}
	return *got
}

func (e *testEnv) audit(t *testing.T, userID string) []domain.AuditEntry {
	t.Helper()
	entries, err := e.store.ListAuditEntries(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries(%s): %v", userID, err)
	}
	return entries
}

// interleavingRepo runs a competing write right before the next
// ApplyTransition calls, so the caller sees a real version conflict.
type interleavingRepo struct {
	*memstore.Store
	before []func()
	calls  int
}

func (r *interleavingRepo) ApplyTransition(ctx context.Context, params domain.TransitionParams) error {
	r.calls++
	if len(r.before) > 0 {
		fn := r.before[0]
		r.before = r.before[1:]
		fn()
	}
	return r.Store.ApplyTransition(ctx, params)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func paymentFixture(id, status, userID string) *gateway.Payment {
	approved := baseTime
	return &gateway.Payment{
		ID:                id,
		Status:            status,
		ExternalReference: userID,
		PayerEmail:        "ana@example.com",
		Amount:            decimal.RequireFromString("29.90"),
		Currency:          "BRL",
		DateApproved:      &approved,
	}
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/memstore"
)

func TestReconciler_TransitionTable(t *testing.T) {
	later := baseTime.Add(time.Hour)
	billing := baseTime.AddDate(0, 1, 0)

	tests := []struct {
		status      domain.GatewayStatus
		wantPremium bool
		wantExpires *time.Time
		wantBilling time.Time
	}{
		{domain.StatusAuthorized, true, nil, later.AddDate(0, 1, 0)},
		{domain.StatusCancelled, true, &billing, billing},
		{domain.StatusPaused, true, &billing, billing},
		{domain.StatusPending, true, ptrTime(later.Add(7 * 24 * time.Hour)), billing},
		{domain.StatusInMediation, true, ptrTime(later.Add(7 * 24 * time.Hour)), billing},
		{domain.StatusRejected, false, &later, billing},
		{domain.StatusExpired, false, &later, billing},
	}

	require.Len(t, tests, len(domain.AllGatewayStatuses))

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			_, err := env.reconciler.Reconcile(ctx, Event{UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusAuthorized, EventID: "e1"})
			require.NoError(t, err)
			activatedAt := env.entitlement(t, "u1").PremiumActivatedAt

			env.clock.Set(later)
			res, err := env.reconciler.Reconcile(ctx, Event{UserID: "u1", SubscriptionID: "sub-1", Status: tt.status, EventID: "e2"})
			require.NoError(t, err)
			assert.True(t, res.Applied)
			assert.Equal(t, domain.StatusAuthorized, res.PreviousStatus)

			got := env.entitlement(t, "u1")
			assert.Equal(t, tt.wantPremium, got.IsPremium)
			assert.Equal(t, tt.status, got.PremiumStatus)
			assert.Equal(t, activatedAt, got.PremiumActivatedAt, "activation stamp is set once")
			if tt.wantExpires == nil {
				assert.Nil(t, got.PremiumExpiresAt)
			} else {
				require.NotNil(t, got.PremiumExpiresAt)
				assert.True(t, tt.wantExpires.Equal(*got.PremiumExpiresAt), "expires %v, want %v", *got.PremiumExpiresAt, *tt.wantExpires)
			}
			require.NotNil(t, got.NextBillingDate)
			assert.True(t, tt.wantBilling.Equal(*got.NextBillingDate))
			assert.Equal(t, later, got.LastSubscriptionUpdate)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestReconciler_CancelWithoutBillingDate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reconciler.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusCancelled})
	require.NoError(t, err)

	got := env.entitlement(t, "u1")
	assert.True(t, got.IsPremium)
	require.NotNil(t, got.PremiumExpiresAt)
	assert.True(t, baseTime.AddDate(0, 1, 0).Equal(*got.PremiumExpiresAt))
}

func TestReconciler_AuditCapturesPreviousStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, status := range []domain.GatewayStatus{domain.StatusAuthorized, domain.StatusPaused, domain.StatusExpired} {
		env.clock.Set(baseTime.Add(time.Duration(i) * time.Minute))
		_, err := env.reconciler.Reconcile(ctx, Event{UserID: "u1", SubscriptionID: "sub-1", Status: status})
		require.NoError(t, err)
	}

	entries := env.audit(t, "u1")
	require.Len(t, entries, 3)

	// newest first
	assert.Equal(t, domain.StatusExpired, entries[0].Status)
	assert.Equal(t, domain.StatusPaused, entries[0].PreviousStatus)
	assert.Equal(t, domain.StatusPaused, entries[1].Status)
	assert.Equal(t, domain.StatusAuthorized, entries[1].PreviousStatus)
	assert.Equal(t, domain.StatusAuthorized, entries[2].Status)
	assert.Empty(t, entries[2].PreviousStatus)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, domain.ActionStatusUpdate, e.Action)
		assert.Equal(t, "sub-1", e.SubscriptionID)
	}
}

func TestReconciler_DuplicateEventIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ev := Event{UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusAuthorized, EventID: "notif-1"}

	first, err := env.reconciler.Reconcile(ctx, ev)
	require.NoError(t, err)
	require.True(t, first.Applied)
	before := env.entitlement(t, "u1")

	env.clock.Set(baseTime.Add(time.Hour))
	second, err := env.reconciler.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)

	assert.Equal(t, before, env.entitlement(t, "u1"))
	assert.Len(t, env.audit(t, "u1"), 1)
	assert.Len(t, env.publisher.Events(), 1)
}

func TestReconciler_StaleEventRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reconciler.Reconcile(ctx, Event{
		UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusAuthorized,
		EventID: "newer", OccurredAt: baseTime.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	before := env.entitlement(t, "u1")

	res, err := env.reconciler.Reconcile(ctx, Event{
		UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusCancelled,
		EventID: "older", OccurredAt: baseTime.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Applied)

	assert.Equal(t, before, env.entitlement(t, "u1"))
	assert.Len(t, env.audit(t, "u1"), 1)
}

func TestReconciler_EqualTimestampsApply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	at := baseTime.Add(time.Hour)

	_, err := env.reconciler.Reconcile(ctx, Event{UserID: "u1", Status: domain.StatusAuthorized, EventID: "a", OccurredAt: at})
	require.NoError(t, err)
	res, err := env.reconciler.Reconcile(ctx, Event{UserID: "u1", Status: domain.StatusPaused, EventID: "b", OccurredAt: at})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestReconciler_RetriesOnVersionConflict(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := memstore.New()
	clock := &testClock{t: baseTime}
	competitor := NewReconciler(base, nil, logger, WithClock(clock.Now))

	repo := &interleavingRepo{Store: base}
	repo.before = []func(){func() {
		_, err := competitor.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusPending, EventID: "competing"})
		require.NoError(t, err)
	}}
	r := NewReconciler(repo, nil, logger, WithClock(clock.Now))

	res, err := r.Reconcile(context.Background(), Event{UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusAuthorized, EventID: "mine"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 2, repo.calls)
	assert.Equal(t, domain.StatusPending, res.PreviousStatus, "recomputed from the competing write")

	got, err := base.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, domain.StatusAuthorized, got.PremiumStatus)
	assert.Nil(t, got.PremiumExpiresAt)
}

func TestReconciler_GivesUpAfterMaxAttempts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := memstore.New()
	clock := &testClock{t: baseTime}
	competitor := NewReconciler(base, nil, logger, WithClock(clock.Now))

	repo := &interleavingRepo{Store: base}
	for i := 0; i < 2; i++ {
		repo.before = append(repo.before, func() {
			_, err := competitor.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusPending})
			require.NoError(t, err)
		})
	}
	r := NewReconciler(repo, nil, logger, WithClock(clock.Now), WithMaxAttempts(2))

	_, err := r.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusAuthorized})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, ErrTooManyConflicts)
	assert.Equal(t, 2, repo.calls)
}

func TestReconciler_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailNextWrites = 1

	_, err := env.reconciler.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusAuthorized})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	_, err = env.store.GetEntitlement(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrEntitlementNotFound)
	assert.Empty(t, env.publisher.Events())
}

func TestReconciler_ReadFailureAborts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &failingReadRepo{Store: memstore.New(), err: errors.New("connection reset")}
	r := NewReconciler(repo, nil, logger)

	_, err := r.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusAuthorized})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 0, repo.writes)
}

func TestReconciler_PublishesChange(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reconciler.Reconcile(context.Background(), Event{UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusPending})
	require.NoError(t, err)

	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, domain.StatusPending, events[0].Status)
	assert.Equal(t, domain.ActionStatusUpdate, events[0].Action)
	assert.True(t, events[0].IsPremium)
	require.NotNil(t, events[0].PremiumExpiresAt)
}

func TestReconciler_PublishFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("nats down")

	res, err := env.reconciler.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusAuthorized})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestReconciler_RejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reconciler.Reconcile(ctx, Event{Status: domain.StatusAuthorized})
	assert.ErrorIs(t, err, domain.ErrMissingUserID)

	_, err = env.reconciler.Reconcile(ctx, Event{UserID: "u1", Status: "trial"})
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = env.store.GetEntitlement(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrEntitlementNotFound)
}

func TestEvent_IdempotencyKey(t *testing.T) {
	assert.Equal(t, "sub-1:authorized:n-1", Event{SubscriptionID: "sub-1", Status: domain.StatusAuthorized, EventID: "n-1"}.IdempotencyKey())
	assert.Empty(t, Event{SubscriptionID: "sub-1", Status: domain.StatusAuthorized}.IdempotencyKey())
}

type failingReadRepo struct {
	*memstore.Store
	err    error
	writes int
}

func (r *failingReadRepo) GetEntitlement(ctx context.Context, userID string) (*domain.Entitlement, error) {
	return nil, r.err
}

func (r *failingReadRepo) ApplyTransition(ctx context.Context, params domain.TransitionParams) error {
	r.writes++
	return r.Store.ApplyTransition(ctx, params)
}

func TestReconciler_CancelAfterBillingDateRevokes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reconciler.Reconcile(ctx, Event{UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusAuthorized, EventID: "e1"})
	require.NoError(t, err)

	now := baseTime.AddDate(0, 2, 0)
	env.clock.Set(now)
	_, err = env.reconciler.Reconcile(ctx, Event{UserID: "u1", SubscriptionID: "sub-1", Status: domain.StatusCancelled, EventID: "e2"})
	require.NoError(t, err)

	got := env.entitlement(t, "u1")
	assert.False(t, got.IsPremium)
	assert.Equal(t, domain.StatusCancelled, got.PremiumStatus)
	require.NotNil(t, got.PremiumExpiresAt)
	assert.Equal(t, now, *got.PremiumExpiresAt)
	assert.False(t, got.ActiveAt(now))
}

func TestReconciler_EvaluatedAtOverridesClock(t *testing.T) {
	env := newTestEnv(t)
	at := baseTime.Add(-72 * time.Hour)

	_, err := env.reconciler.Reconcile(context.Background(), Event{UserID: "u1", Status: domain.StatusPending, EvaluatedAt: at})
	require.NoError(t, err)

	got := env.entitlement(t, "u1")
	assert.Equal(t, at.Add(domain.GracePeriod), *got.PremiumExpiresAt)
	assert.Equal(t, at, got.LastSubscriptionUpdate)
	assert.Equal(t, at, env.audit(t, "u1")[0].UpdatedAt)
}

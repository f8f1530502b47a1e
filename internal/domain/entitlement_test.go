package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayStatus_EveryStatusHasAClass(t *testing.T) {
	for _, s := range AllGatewayStatuses {
		t.Run(string(s), func(t *testing.T) {
			assert.NotEqual(t, ClassUnknown, s.Class())
			assert.True(t, s.Valid())
		})
	}

	assert.Equal(t, ClassUnknown, GatewayStatus("refunded").Class())
}

func TestParseGatewayStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    GatewayStatus
		wantErr bool
	}{
		{raw: "authorized", want: StatusAuthorized},
		{raw: " Paused ", want: StatusPaused},
		{raw: "canceled", want: StatusCancelled},
		{raw: "cancelled", want: StatusCancelled},
		{raw: "in_mediation", want: StatusInMediation},
		{raw: "approved", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseGatewayStatus(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownStatus))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntitlement_Transition(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	activated := now.AddDate(0, -2, 0)
	billing := now.AddDate(0, 0, 10)

	premium := Entitlement{
		UserID:             "u1",
		IsPremium:          true,
		PremiumStatus:      StatusAuthorized,
		SubscriptionID:     "sub-old",
		PremiumActivatedAt: &activated,
		NextBillingDate:    &billing,
		Version:            4,
	}

	t.Run("authorized activates a fresh record", func(t *testing.T) {
		next, err := NewEntitlement("u1").Transition(StatusAuthorized, "sub-1", now)
		require.NoError(t, err)

		assert.True(t, next.IsPremium)
		assert.Equal(t, StatusAuthorized, next.PremiumStatus)
		assert.Nil(t, next.PremiumExpiresAt)
		require.NotNil(t, next.PremiumActivatedAt)
		assert.Equal(t, now, *next.PremiumActivatedAt)
		require.NotNil(t, next.NextBillingDate)
		assert.Equal(t, now.AddDate(0, 1, 0), *next.NextBillingDate)
		assert.Equal(t, "sub-1", next.SubscriptionID)
		assert.Equal(t, now, next.LastSubscriptionUpdate)
	})

	t.Run("authorized renewal keeps first activation and clears expiry", func(t *testing.T) {
		graced := premium
		graced.PremiumExpiresAt = &billing
		graced.PremiumStatus = StatusPaused

		next, err := graced.Transition(StatusAuthorized, "", now)
		require.NoError(t, err)

		assert.Equal(t, activated, *next.PremiumActivatedAt)
		assert.Nil(t, next.PremiumExpiresAt)
		assert.Equal(t, "sub-old", next.SubscriptionID)
	})

	for _, status := range []GatewayStatus{StatusCancelled, StatusPaused} {
		t.Run(string(status)+" grants grace until next billing date", func(t *testing.T) {
			next, err := premium.Transition(status, "", now)
			require.NoError(t, err)

			assert.True(t, next.IsPremium)
			require.NotNil(t, next.PremiumExpiresAt)
			assert.Equal(t, billing, *next.PremiumExpiresAt)
			assert.Equal(t, billing, *next.NextBillingDate)
			assert.Equal(t, activated, *next.PremiumActivatedAt)
		})

		t.Run(string(status)+" without billing date grants one month", func(t *testing.T) {
			next, err := NewEntitlement("u2").Transition(status, "sub-2", now)
			require.NoError(t, err)

			assert.True(t, next.IsPremium)
			assert.Equal(t, now.AddDate(0, 1, 0), *next.PremiumExpiresAt)
			assert.Nil(t, next.NextBillingDate)
			assert.Nil(t, next.PremiumActivatedAt)
		})

		t.Run(string(status)+" after the billing date revokes", func(t *testing.T) {
			for _, at := range []time.Time{billing, billing.AddDate(0, 0, 20)} {
				next, err := premium.Transition(status, "", at)
				require.NoError(t, err)

				assert.False(t, next.IsPremium)
				assert.Equal(t, status, next.PremiumStatus)
				require.NotNil(t, next.PremiumExpiresAt)
				assert.Equal(t, at, *next.PremiumExpiresAt)
				assert.Equal(t, billing, *next.NextBillingDate)
			}
		})
	}

	for _, status := range []GatewayStatus{StatusPending, StatusInMediation} {
		t.Run(string(status)+" grants seven days", func(t *testing.T) {
			next, err := premium.Transition(status, "", now)
			require.NoError(t, err)

			assert.True(t, next.IsPremium)
			assert.WithinDuration(t, now.Add(7*24*time.Hour), *next.PremiumExpiresAt, time.Second)
			assert.Equal(t, billing, *next.NextBillingDate)
		})
	}

	for _, status := range []GatewayStatus{StatusRejected, StatusExpired} {
		t.Run(string(status)+" revokes immediately", func(t *testing.T) {
			next, err := premium.Transition(status, "", now)
			require.NoError(t, err)

			assert.False(t, next.IsPremium)
			require.NotNil(t, next.PremiumExpiresAt)
			assert.False(t, next.PremiumExpiresAt.After(now))
			assert.Equal(t, activated, *next.PremiumActivatedAt)
			assert.Equal(t, billing, *next.NextBillingDate)
		})
	}

	t.Run("unknown status is rejected and record untouched", func(t *testing.T) {
		next, err := premium.Transition(GatewayStatus("refunded"), "", now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownStatus))
		assert.Equal(t, premium, next)
	})

	t.Run("receiver is not modified", func(t *testing.T) {
		before := premium
		_, err := premium.Transition(StatusRejected, "sub-x", now)
		require.NoError(t, err)
		assert.Equal(t, before, premium)
	})
}

func TestEntitlement_ActiveAndExpired(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name        string
		ent         Entitlement
		wantActive  bool
		wantExpired bool
	}{
		{name: "open ended", ent: Entitlement{IsPremium: true}, wantActive: true},
		{name: "future expiry", ent: Entitlement{IsPremium: true, PremiumExpiresAt: &future}, wantActive: true},
		{name: "stale past expiry", ent: Entitlement{IsPremium: true, PremiumExpiresAt: &past}, wantExpired: true},
		{name: "expiry exactly now", ent: Entitlement{IsPremium: true, PremiumExpiresAt: &now}, wantExpired: true},
		{name: "not premium", ent: Entitlement{IsPremium: false, PremiumExpiresAt: &past}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantActive, tt.ent.ActiveAt(now))
			assert.Equal(t, tt.wantExpired, tt.ent.ExpiredAt(now))
		})
	}
}

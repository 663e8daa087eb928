package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouponTransitions(t *testing.T) {
	tests := []struct {
		from, to CouponStatus
		want     bool
	}{
		{CouponStatusPending, CouponStatusReserved, true},
		{CouponStatusReserved, CouponStatusPaid, true},
		{CouponStatusReserved, CouponStatusActivated, true},
		{CouponStatusPaid, CouponStatusActivated, true},
		{CouponStatusActivated, CouponStatusActivated, true},
		{CouponStatusActivated, CouponStatusUsed, true},
		{CouponStatusPaid, CouponStatusCancelled, true},
		{CouponStatusActivated, CouponStatusExpired, true},
		{CouponStatusPaid, CouponStatusReserved, false},
		{CouponStatusActivated, CouponStatusCancelled, false},
		{CouponStatusUsed, CouponStatusActivated, false},
		{CouponStatusCancelled, CouponStatusReserved, false},
		{CouponStatusExpired, CouponStatusReserved, false},
		{CouponStatusPending, CouponStatusUsed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestCouponTerminalAndDeletable(t *testing.T) {
	for _, s := range []CouponStatus{CouponStatusUsed, CouponStatusCancelled, CouponStatusExpired} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []CouponStatus{CouponStatusPending, CouponStatusReserved, CouponStatusPaid, CouponStatusActivated} {
		assert.False(t, s.Terminal(), s)
	}

	assert.False(t, CouponStatusActivated.Deletable())
	assert.False(t, CouponStatusUsed.Deletable())
	assert.True(t, CouponStatusReserved.Deletable())
	assert.True(t, CouponStatusExpired.Deletable())
}

func TestParseCouponStatusNormalizesLegacyValues(t *testing.T) {
	tests := map[string]CouponStatus{
		"active":    CouponStatusReserved,
		"Inactive":  CouponStatusCancelled,
		"redeemed":  CouponStatusUsed,
		" paid ":    CouponStatusPaid,
		"activated": CouponStatusActivated,
	}
	for in, want := range tests {
		got, err := ParseCouponStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCouponStatus("archived")
	require.Error(t, err)
}

func TestPaymentAndWithdrawalTransitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPaid))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.True(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusRefunded))
	assert.False(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusPaid))

	assert.True(t, WithdrawalStatusPending.CanTransitionTo(WithdrawalStatusApproved))
	assert.True(t, WithdrawalStatusApproved.CanTransitionTo(WithdrawalStatusCompleted))
	assert.False(t, WithdrawalStatusApproved.CanTransitionTo(WithdrawalStatusApproved))
	assert.False(t, WithdrawalStatusRejected.CanTransitionTo(WithdrawalStatusApproved))
	assert.False(t, WithdrawalStatusPending.CanTransitionTo(WithdrawalStatusCompleted))

	st, err := ParsePaymentStatus("succeeded")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusPaid, st)
}

func TestPaymentMethod(t *testing.T) {
	m, err := ParsePaymentMethod("CASH")
	require.NoError(t, err)
	assert.False(t, m.RequiresGateway())
	assert.True(t, PaymentMethodCard.RequiresGateway())

	_, err = ParsePaymentMethod("barter")
	require.Error(t, err)
}

func TestCouponOriginValidate(t *testing.T) {
	require.NoError(t, CatalogOrigin(1).Validate())
	require.NoError(t, OrderOrigin(1, 2, 3).Validate())

	bad := CatalogOrigin(1)
	orderID := int64(9)
	bad.OrderID = &orderID
	require.Error(t, bad.Validate())

	require.Error(t, CouponOrigin{Kind: OriginOrder}.Validate())
	require.Error(t, CouponOrigin{}.Validate())

	data, err := json.Marshal(OrderOrigin(5, 6, 7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"order","offer_id":7,"order_id":5,"user_id":6}`, string(data))
}

func TestWalletAvailableBalance(t *testing.T) {
	w := Wallet{Balance: decimal.NewFromInt(500), ReservedBalance: decimal.NewFromInt(120)}
	assert.True(t, decimal.NewFromInt(380).Equal(w.AvailableBalance()))
}

func TestOfferAvailable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := Offer{
		Status:     OfferStatusActive,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
	}
	assert.True(t, o.Available(now))
	assert.False(t, o.Available(now.Add(2*time.Hour)))

	o.Status = OfferStatusDisabled
	assert.False(t, o.Available(now))

	o.Status = OfferStatusActive
	deleted := now
	o.DeletedAt = &deleted
	assert.False(t, o.Available(now))
}

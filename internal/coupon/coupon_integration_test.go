//go:build integration

package coupon_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/marketplace-core/internal/checkout"
	"github.com/safar/marketplace-core/internal/commission"
	"github.com/safar/marketplace-core/internal/coupon"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/safar/marketplace-core/internal/testutil"
)

// reservedCoupon checks out one unit of a fresh offer with cash and returns
// the reserved coupon issued for it.
func reservedCoupon(t *testing.T, db *sql.DB, svc *coupon.Service, opts ...testutil.OfferOption) (*models.Merchant, *models.Offer, models.Coupon) {
	t.Helper()
	calc, err := commission.NewCalculator(commission.DefaultRate)
	require.NoError(t, err)

	o := checkout.New(checkout.Deps{
		DB:         db,
		Coupons:    svc,
		Ledger:     ledger.New(db, zap.NewNop(), nil),
		Commission: calc,
	})
	t.Cleanup(o.Wait)

	merchant, _ := testutil.Merchant(t, db, "0")
	offer := testutil.Offer(t, db, merchant.ID, "50.00", 10, opts...)
	user := testutil.User(t, db)
	testutil.AddToCart(t, db, user.ID, offer, 1)

	order, err := o.Checkout(context.Background(), checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
	require.NoError(t, err)
	require.Len(t, order.Coupons, 1)
	return merchant, offer, order.Coupons[0]
}

func TestActivateOnce(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)
	ctx := context.Background()

	merchant, _, c := reservedCoupon(t, db, svc)

	activated, err := svc.Activate(ctx, coupon.ActivateRequest{
		Code:       c.CouponCode,
		MerchantID: merchant.ID,
		StaffID:    11,
		Channel:    coupon.ChannelQR,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusActivated, activated.Status)
	assert.Equal(t, 1, activated.TimesUsed)
	require.NotNil(t, activated.ActivatedAt)

	_, err = svc.Activate(ctx, coupon.ActivateRequest{
		Code:       c.CouponCode,
		MerchantID: merchant.ID,
		StaffID:    11,
		Channel:    coupon.ChannelQR,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)
	assert.ErrorIs(t, err, database.ErrUsageLimitExceeded)
	assert.Contains(t, err.Error(), "current state: activated")

	used, err := svc.Use(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusUsed, used.Status)
}

func TestActivateRejectsOtherMerchant(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)

	_, _, c := reservedCoupon(t, db, svc)
	other, _ := testutil.Merchant(t, db, "0")

	_, err := svc.Activate(context.Background(), coupon.ActivateRequest{
		CouponID:   c.ID,
		MerchantID: other.ID,
		Channel:    coupon.ChannelCounter,
	})
	assert.ErrorIs(t, err, database.ErrNotActivatable)
}

func TestConcurrentActivationsRespectUsageLimit(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)
	ctx := context.Background()

	const limit, attempts = 3, 8
	merchant, _, c := reservedCoupon(t, db, svc, testutil.WithUsageLimit(limit))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		start = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Activate(ctx, coupon.ActivateRequest{
				CouponID:   c.ID,
				MerchantID: merchant.ID,
				Channel:    coupon.ChannelBarcode,
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, database.ErrInvalidTransition) {
				t.Errorf("unexpected activation error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, ok)
	after, err := store.GetCoupon(ctx, db, c.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, after.TimesUsed)
	assert.Zero(t, after.RemainingUses())
}

func TestActivateExpiresLazily(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)
	ctx := context.Background()

	merchant, _, c := reservedCoupon(t, db, svc)
	_, err := db.Exec(`UPDATE coupons SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, c.ID)
	require.NoError(t, err)

	_, err = svc.Activate(ctx, coupon.ActivateRequest{
		CouponID:   c.ID,
		MerchantID: merchant.ID,
		Channel:    coupon.ChannelQR,
	})
	assert.ErrorIs(t, err, database.ErrCouponExpired)

	after, err := store.GetCoupon(ctx, db, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusExpired, after.Status)
}

func TestExpireDue(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, _, stale := reservedCoupon(t, db, svc)
	_, _, fresh := reservedCoupon(t, db, svc)
	_, err := db.Exec(`UPDATE coupons SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	n, err := svc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetCoupon(ctx, db, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusExpired, got.Status)

	got, err = store.GetCoupon(ctx, db, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusReserved, got.Status)

	n, err = svc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalogCouponLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)
	ctx := context.Background()

	calc, err := commission.NewCalculator(commission.DefaultRate)
	require.NoError(t, err)
	o := checkout.New(checkout.Deps{
		DB:         db,
		Coupons:    svc,
		Ledger:     ledger.New(db, zap.NewNop(), nil),
		Commission: calc,
	})
	t.Cleanup(o.Wait)

	merchant, _ := testutil.Merchant(t, db, "0")
	offer := testutil.Offer(t, db, merchant.ID, "20.00", 5, testutil.WithUsageLimit(2))

	catalog, err := svc.IssueCatalog(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusPending, catalog.Status)

	_, err = svc.IssueCatalog(ctx, offer.ID)
	assert.ErrorIs(t, err, database.ErrValidation)

	buy := func(qty int) error {
		user := testutil.User(t, db)
		require.NoError(t, store.AddCartItem(ctx, db, &models.CartItem{
			UserID:     user.ID,
			OfferID:    offer.ID,
			CouponID:   &catalog.ID,
			Quantity:   qty,
			PriceAtAdd: offer.Price,
		}))
		_, err := o.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
		return err
	}

	assert.ErrorIs(t, buy(1), database.ErrNotActivatable, "pending catalog coupon cannot be sold")

	published, err := svc.Publish(ctx, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusReserved, published.Status)

	_, err = svc.Publish(ctx, catalog.ID)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)

	require.NoError(t, buy(2))
	assert.ErrorIs(t, buy(1), database.ErrUsageLimitExceeded)

	got, err := store.GetCoupon(ctx, db, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TimesUsed)

	assert.ErrorIs(t, svc.Delete(ctx, catalog.ID), database.ErrInvalidTransition)
}

func TestDeleteOfferRemovesUnusedCatalogCoupon(t *testing.T) {
	db := testutil.NewDB(t)
	svc := coupon.NewService(db, zap.NewNop(), nil)
	ctx := context.Background()

	merchant, _ := testutil.Merchant(t, db, "0")
	offer := testutil.Offer(t, db, merchant.ID, "20.00", 5)
	catalog, err := svc.IssueCatalog(ctx, offer.ID)
	require.NoError(t, err)

	removed, err := svc.DeleteOffer(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetCoupon(ctx, db, catalog.ID)
	assert.ErrorIs(t, err, database.ErrCouponNotFound)

	_, err = store.GetOffer(ctx, db, offer.ID)
	assert.ErrorIs(t, err, database.ErrOfferNotFound)
}

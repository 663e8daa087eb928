//go:build integration

package checkout_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/marketplace-core/internal/checkout"
	"github.com/safar/marketplace-core/internal/commission"
	"github.com/safar/marketplace-core/internal/coupon"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/invoice"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/loyalty"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/notify"
	"github.com/safar/marketplace-core/internal/payment"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/safar/marketplace-core/internal/testutil"
)

type env struct {
	db      *sql.DB
	orch    *checkout.Orchestrator
	ledger  *ledger.Ledger
	coupons *coupon.Service
}

func newEnv(t *testing.T, gw payment.Gateway) *env {
	t.Helper()
	db := testutil.NewDB(t)
	lg := zap.NewNop()

	calc, err := commission.NewCalculator(commission.DefaultRate)
	require.NoError(t, err)

	l := ledger.New(db, lg, nil)
	c := coupon.NewService(db, lg, nil)
	o := checkout.New(checkout.Deps{
		DB:         db,
		Coupons:    c,
		Ledger:     l,
		Commission: calc,
		Gateway:    gw,
		Notifier:   notify.NewLogDispatcher(lg),
		Invoices:   invoice.NewGenerator(db),
		Loyalty:    loyalty.NewService(db, 1),
		Logger:     lg,
	})
	t.Cleanup(o.Wait)
	return &env{db: db, orch: o, ledger: l, coupons: c}
}

func paidGateway(ref string) payment.Gateway {
	return payment.GatewayFunc(func(ctx context.Context, req payment.Request) (*payment.Result, error) {
		return &payment.Result{Status: payment.StatusPaid, Reference: ref}, nil
	})
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func balance(t *testing.T, l *ledger.Ledger, walletID int64) decimal.Decimal {
	t.Helper()
	w, err := l.Balance(context.Background(), walletID)
	require.NoError(t, err)
	return w.Balance
}

func TestCashCheckoutLeavesOrderPending(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "100.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
	require.NoError(t, err)
	e.orch.Wait()

	assert.True(t, decimal.NewFromInt(100).Equal(order.TotalAmount))
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Coupons, 1)
	assert.Equal(t, models.CouponStatusReserved, order.Coupons[0].Status)

	assert.True(t, balance(t, e.ledger, wallet.ID).IsZero())
	txs, err := store.ListWalletTransactionsByRelated(ctx, e.db, ledger.RelatedOrder, order.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)

	after, err := store.GetOffer(ctx, e.db, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.CouponsRemaining)

	cart, err := store.GetCart(ctx, e.db, user.ID)
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestPaidCheckoutSettlesWallets(t *testing.T) {
	e := newEnv(t, paidGateway("PAY-1"))
	ctx := context.Background()

	admin, err := e.ledger.AdminWallet(ctx, e.db)
	require.NoError(t, err)

	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "100.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodOnline})
	require.NoError(t, err)
	e.orch.Wait()

	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "PAY-1", order.PaymentReference)
	require.Len(t, order.Coupons, 1)
	assert.Equal(t, models.CouponStatusPaid, order.Coupons[0].Status)

	assert.Equal(t, "90.00", balance(t, e.ledger, wallet.ID).StringFixed(2))
	assert.Equal(t, "10.00", balance(t, e.ledger, admin.ID).Sub(admin.Balance).StringFixed(2))

	txs, err := store.ListWalletTransactionsByRelated(ctx, e.db, ledger.RelatedOrder, order.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	for _, id := range []int64{wallet.ID, admin.ID} {
		report, err := e.ledger.Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent(), "wallet %d: %v", id, report.Problems)
	}

	calc, err := commission.NewCalculator(commission.DefaultRate)
	require.NoError(t, err)
	earnings, err := calc.EarningsReport(ctx, e.db, merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, earnings.Orders)
	assert.True(t, earnings.Net.Equal(balance(t, e.ledger, wallet.ID)))

	inv, err := store.GetInvoiceByOrder(ctx, e.db, order.ID)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(inv.Amount))

	buyer, err := store.GetUser(ctx, e.db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), buyer.LoyaltyPoints)
}

func TestCheckoutRollsBackWhenPaymentFails(t *testing.T) {
	gateways := map[string]payment.Gateway{
		"gateway error": payment.GatewayFunc(func(ctx context.Context, req payment.Request) (*payment.Result, error) {
			return nil, payment.ErrGatewayUnavailable
		}),
		"declined": payment.GatewayFunc(func(ctx context.Context, req payment.Request) (*payment.Result, error) {
			return &payment.Result{Status: payment.StatusFailed, Message: "card declined"}, nil
		}),
	}

	for name, gw := range gateways {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, gw)
			ctx := context.Background()

			merchant, _ := testutil.Merchant(t, e.db, "0")
			offer := testutil.Offer(t, e.db, merchant.ID, "40.00", 3)
			user := testutil.User(t, e.db)
			testutil.AddToCart(t, e.db, user.ID, offer, 2)

			_, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCard})
			require.Error(t, err)
			assert.ErrorIs(t, err, database.ErrPaymentFailed)
			assert.Equal(t, database.KindExternalDependency, database.KindOf(err))

			assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM orders`))
			assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM order_items`))
			assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM coupons`))
			assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM wallet_transactions`))

			after, err := store.GetOffer(ctx, e.db, offer.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, after.CouponsRemaining)

			cart, err := store.GetCart(ctx, e.db, user.ID)
			require.NoError(t, err)
			assert.Len(t, cart, 1)
		})
	}
}

func TestConcurrentCheckoutForLastCoupon(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	merchant, _ := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "25.00", 1)

	users := []*models.User{testutil.User(t, e.db), testutil.User(t, e.db)}
	for _, u := range users {
		testutil.AddToCart(t, e.db, u.ID, offer, 1)
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, len(users))
	)
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = e.orch.Checkout(ctx, checkout.Request{UserID: u.ID, PaymentMethod: models.PaymentMethodCash})
		}()
	}
	close(start)
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, database.ErrInsufficientCoupons):
			short++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	after, err := store.GetOffer(ctx, e.db, offer.ID)
	require.NoError(t, err)
	assert.Zero(t, after.CouponsRemaining)
	assert.Equal(t, 1, count(t, e.db, `SELECT COUNT(*) FROM coupons WHERE offer_id = $1`, offer.ID))
}

func TestConfirmPaymentSettlesCashOrder(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "100.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
	require.NoError(t, err)

	confirmed, err := e.orch.ConfirmPayment(ctx, order.ID, "CASH-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, confirmed.PaymentStatus)
	assert.Equal(t, "90.00", balance(t, e.ledger, wallet.ID).StringFixed(2))

	_, err = e.orch.ConfirmPayment(ctx, order.ID, "CASH-1")
	assert.ErrorIs(t, err, database.ErrInvalidTransition)
	assert.Equal(t, "90.00", balance(t, e.ledger, wallet.ID).StringFixed(2))
}

func TestCancelRestoresInventory(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	merchant, _ := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "15.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 2)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
	require.NoError(t, err)

	cancelled, err := e.orch.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, cancelled.PaymentStatus)
	for _, c := range cancelled.Coupons {
		assert.Equal(t, models.CouponStatusCancelled, c.Status)
	}

	after, err := store.GetOffer(ctx, e.db, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.CouponsRemaining)

	_, err = e.orch.Cancel(ctx, order.ID)
	assert.ErrorIs(t, err, database.ErrNotCancellable)
}

func TestRefundReversesSettlement(t *testing.T) {
	e := newEnv(t, paidGateway("PAY-2"))
	ctx := context.Background()

	admin, err := e.ledger.AdminWallet(ctx, e.db)
	require.NoError(t, err)
	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "100.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCard})
	require.NoError(t, err)

	actor := int64(99)
	refunded, err := e.orch.Refund(ctx, order.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	require.Len(t, refunded.Coupons, 1)
	assert.Equal(t, models.CouponStatusCancelled, refunded.Coupons[0].Status)

	assert.True(t, balance(t, e.ledger, wallet.ID).IsZero())
	assert.True(t, balance(t, e.ledger, admin.ID).Equal(admin.Balance))

	after, err := store.GetOffer(ctx, e.db, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.CouponsRemaining)

	for _, id := range []int64{wallet.ID, admin.ID} {
		report, err := e.ledger.Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent(), "wallet %d: %v", id, report.Problems)
	}

	_, err = e.orch.Refund(ctx, order.ID, &actor)
	assert.ErrorIs(t, err, database.ErrNotRefundable)
}

func TestRefundRefusedAfterRedemption(t *testing.T) {
	e := newEnv(t, paidGateway("PAY-3"))
	ctx := context.Background()

	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "100.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCard})
	require.NoError(t, err)

	_, err = e.coupons.Activate(ctx, coupon.ActivateRequest{
		CouponID:   order.Coupons[0].ID,
		MerchantID: merchant.ID,
		StaffID:    7,
		Channel:    coupon.ChannelCounter,
	})
	require.NoError(t, err)

	_, err = e.orch.Refund(ctx, order.ID, nil)
	assert.ErrorIs(t, err, database.ErrNotRefundable)
	assert.Equal(t, "90.00", balance(t, e.ledger, wallet.ID).StringFixed(2))
}

func TestCheckoutRejectsUnavailableOffer(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	merchant, _ := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "10.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)
	require.NoError(t, store.UpdateOfferStatus(ctx, e.db, offer.ID, models.OfferStatusDisabled))

	_, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
	assert.ErrorIs(t, err, database.ErrOfferUnavailable)

	empty := testutil.User(t, e.db)
	_, err = e.orch.Checkout(ctx, checkout.Request{UserID: empty.ID, PaymentMethod: models.PaymentMethodCash})
	assert.ErrorIs(t, err, database.ErrCartEmpty)
}

func TestPendingGatewayLeavesOrderPending(t *testing.T) {
	var currency string
	e := newEnv(t, payment.GatewayFunc(func(ctx context.Context, req payment.Request) (*payment.Result, error) {
		currency = req.Currency
		return &payment.Result{Status: payment.StatusPending, Reference: "PAY-PENDING"}, nil
	}))
	ctx := context.Background()

	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "60.00", 5)
	user := testutil.User(t, e.db)
	testutil.AddToCart(t, e.db, user.ID, offer, 1)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCard})
	require.NoError(t, err)
	e.orch.Wait()

	assert.Equal(t, "USD", currency)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "PAY-PENDING", order.PaymentReference)
	require.Len(t, order.Coupons, 1)
	assert.Equal(t, models.CouponStatusReserved, order.Coupons[0].Status)

	stored, err := store.GetOrder(ctx, e.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, "PAY-PENDING", stored.PaymentReference)

	assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM wallet_transactions`))
	assert.True(t, balance(t, e.ledger, wallet.ID).IsZero())
	assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM invoices WHERE order_id = $1`, order.ID))

	confirmed, err := e.orch.ConfirmPayment(ctx, order.ID, "PAY-PENDING")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, confirmed.PaymentStatus)
	assert.Equal(t, "54.00", balance(t, e.ledger, wallet.ID).StringFixed(2))
}

// catalogLine publishes the offer's catalog coupon and puts quantity uses
// of it in the user's cart.
func catalogLine(t *testing.T, e *env, userID int64, offer *models.Offer, quantity int) *models.Coupon {
	t.Helper()
	ctx := context.Background()

	issued, err := e.coupons.IssueCatalog(ctx, offer.ID)
	require.NoError(t, err)
	published, err := e.coupons.Publish(ctx, issued.ID)
	require.NoError(t, err)

	require.NoError(t, store.AddCartItem(ctx, e.db, &models.CartItem{
		UserID:     userID,
		OfferID:    offer.ID,
		CouponID:   &published.ID,
		Quantity:   quantity,
		PriceAtAdd: offer.Price,
	}))
	return published
}

func timesUsed(t *testing.T, db *sql.DB, couponID int64) int {
	t.Helper()
	c, err := store.GetCoupon(context.Background(), db, couponID)
	require.NoError(t, err)
	return c.TimesUsed
}

func TestCancelReleasesCatalogReuse(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	merchant, _ := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "20.00", 5, testutil.WithUsageLimit(3))
	user := testutil.User(t, e.db)
	catalog := catalogLine(t, e, user.ID, offer, 2)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCash})
	require.NoError(t, err)
	assert.Empty(t, order.Coupons, "reuse lines issue no coupons")
	assert.Equal(t, 2, timesUsed(t, e.db, catalog.ID))

	_, err = e.orch.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, timesUsed(t, e.db, catalog.ID))

	c, err := store.GetCoupon(ctx, e.db, catalog.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CouponStatusReserved, c.Status)

	after, err := store.GetOffer(ctx, e.db, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.CouponsRemaining, "catalog coupon keeps its unit")
	assert.Zero(t, count(t, e.db, `SELECT COUNT(*) FROM wallet_transactions`))
}

func TestRefundReleasesCatalogReuse(t *testing.T) {
	e := newEnv(t, paidGateway("PAY-4"))
	ctx := context.Background()

	admin, err := e.ledger.AdminWallet(ctx, e.db)
	require.NoError(t, err)
	merchant, wallet := testutil.Merchant(t, e.db, "0")
	offer := testutil.Offer(t, e.db, merchant.ID, "50.00", 5, testutil.WithUsageLimit(2))
	user := testutil.User(t, e.db)
	catalog := catalogLine(t, e, user.ID, offer, 2)

	order, err := e.orch.Checkout(ctx, checkout.Request{UserID: user.ID, PaymentMethod: models.PaymentMethodCard})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, 2, timesUsed(t, e.db, catalog.ID))
	assert.Equal(t, "90.00", balance(t, e.ledger, wallet.ID).StringFixed(2))

	refunded, err := e.orch.Refund(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Zero(t, timesUsed(t, e.db, catalog.ID))

	assert.True(t, balance(t, e.ledger, wallet.ID).IsZero())
	assert.True(t, balance(t, e.ledger, admin.ID).Equal(admin.Balance))

	txs, err := store.ListWalletTransactionsByRelated(ctx, e.db, ledger.RelatedOrder, order.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 4)

	for _, id := range []int64{wallet.ID, admin.ID} {
		report, err := e.ledger.Verify(ctx, id)
		require.NoError(t, err)
		assert.True(t, report.Consistent(), "wallet %d: %v", id, report.Problems)
	}
}

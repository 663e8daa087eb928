package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/safar/marketplace-core/internal/commission"
	"github.com/safar/marketplace-core/internal/coupon"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/notify"
	"github.com/safar/marketplace-core/internal/payment"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InvoiceGenerator interface {
	Generate(ctx context.Context, order *models.Order) (*models.Invoice, error)
}

type LoyaltyAwarder interface {
	Award(ctx context.Context, order *models.Order) (int64, error)
}

type CartClearer interface {
	ClearItems(ctx context.Context, userID int64, itemIDs []int64) error
}

type storeCart struct {
	db *sql.DB
}

func (c storeCart) ClearItems(ctx context.Context, userID int64, itemIDs []int64) error {
	return store.DeleteCartItems(ctx, c.db, userID, itemIDs)
}

type Deps struct {
	DB         *sql.DB
	Coupons    *coupon.Service
	Ledger     *ledger.Ledger
	Commission *commission.Calculator
	Gateway    payment.Gateway
	Notifier   notify.Dispatcher
	Invoices   InvoiceGenerator
	Loyalty    LoyaltyAwarder
	Cart       CartClearer
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	Currency          string
	PostCommitTimeout time.Duration
}

// Orchestrator turns carts into orders and drives payment, coupon and
// settlement state for them.
type Orchestrator struct {
	db       *sql.DB
	coupons  *coupon.Service
	ledger   *ledger.Ledger
	calc     *commission.Calculator
	gateway  payment.Gateway
	notifier notify.Dispatcher
	invoices InvoiceGenerator
	loyalty  LoyaltyAwarder
	cart     CartClearer
	logger   *zap.Logger
	metrics  *metrics.Metrics

	currency          string
	postCommitTimeout time.Duration
	now               func() time.Time
	hooks             sync.WaitGroup
}

func New(d Deps) *Orchestrator {
	if d.Cart == nil {
		d.Cart = storeCart{db: d.DB}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}
	if d.PostCommitTimeout == 0 {
		d.PostCommitTimeout = 30 * time.Second
	}
	return &Orchestrator{
		db:                d.DB,
		coupons:           d.Coupons,
		ledger:            d.Ledger,
		calc:              d.Commission,
		gateway:           d.Gateway,
		notifier:          d.Notifier,
		invoices:          d.Invoices,
		loyalty:           d.Loyalty,
		cart:              d.Cart,
		logger:            d.Logger,
		metrics:           d.Metrics,
		currency:          d.Currency,
		postCommitTimeout: d.PostCommitTimeout,
		now:               time.Now,
	}
}

type Request struct {
	UserID        int64
	PaymentMethod models.PaymentMethod
	PaymentData   map[string]string
}

func orderRefused(order *models.Order, to models.PaymentStatus, cause error) error {
	return &database.TransitionError{
		Entity: "order",
		ID:     order.ID,
		From:   string(order.PaymentStatus),
		To:     string(to),
		Err:    cause,
	}
}

// sortedLines orders cart lines by offer so concurrent checkouts lock
// offers and catalog coupons in the same order.
func sortedLines(cart []models.CartItem) []models.CartItem {
	lines := make([]models.CartItem, len(cart))
	copy(lines, cart)
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].OfferID != lines[j].OfferID {
			return lines[i].OfferID < lines[j].OfferID
		}
		return lines[i].ID < lines[j].ID
	})
	return lines
}

func cartTotal(cart []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range cart {
		total = total.Add(line.PriceAtAdd.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Checkout converts the user's cart into an order in one transaction.
// Non-cash payments are captured before commit; a failed capture rolls
// everything back. Runs once: a retry could capture the payment twice.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*models.Order, error) {
	if req.PaymentMethod == "" {
		return nil, database.Invalid("payment_method", "required")
	}
	if _, err := models.ParsePaymentMethod(string(req.PaymentMethod)); err != nil {
		return nil, database.Invalid("payment_method", "%v", err)
	}

	var (
		order    *models.Order
		cartIDs  []int64
		captured *payment.Result
	)

	ctx, observed := metrics.WithDeferred(ctx)
	err := database.WithTransaction(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		captured = nil

		if _, err := store.GetUser(ctx, tx, req.UserID); err != nil {
			return err
		}

		cart, err := store.GetCart(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if len(cart) == 0 {
			return database.ErrCartEmpty
		}

		lines := sortedLines(cart)
		offers := make(map[int64]*models.Offer)
		now := o.now()
		for _, line := range lines {
			if _, ok := offers[line.OfferID]; ok {
				continue
			}
			offer, err := store.LockOffer(ctx, tx, line.OfferID)
			if err != nil {
				return err
			}
			if !offer.Available(now) {
				return fmt.Errorf("offer %d (%s): %w", offer.ID, offer.Status, database.ErrOfferUnavailable)
			}
			offers[offer.ID] = offer
		}

		order = &models.Order{
			UserID:        req.UserID,
			TotalAmount:   cartTotal(lines),
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: models.PaymentStatusPending,
		}
		if err := store.InsertOrder(ctx, tx, order); err != nil {
			return err
		}

		cartIDs = cartIDs[:0]
		for _, line := range lines {
			offer := offers[line.OfferID]
			item := models.OrderItem{
				OrderID:    order.ID,
				OfferID:    offer.ID,
				MerchantID: offer.MerchantID,
				CouponID:   line.CouponID,
				Quantity:   line.Quantity,
				UnitPrice:  line.PriceAtAdd,
				Subtotal:   line.PriceAtAdd.Mul(decimal.NewFromInt(int64(line.Quantity))),
			}
			if err := store.InsertOrderItem(ctx, tx, &item); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
			cartIDs = append(cartIDs, line.ID)

			if line.CouponID != nil {
				if _, err := o.coupons.Reuse(ctx, tx, *line.CouponID, offer.ID, line.Quantity); err != nil {
					return err
				}
				continue
			}

			issued, err := o.coupons.IssueForOrder(ctx, tx, offer, order.ID, req.UserID, line.Quantity)
			if err != nil {
				return err
			}
			order.Coupons = append(order.Coupons, issued...)
		}

		if !req.PaymentMethod.RequiresGateway() {
			return nil
		}

		result, err := o.gateway.Process(ctx, payment.Request{
			OrderNumber: order.OrderNumber,
			Amount:      order.TotalAmount,
			Currency:    o.currency,
			Method:      req.PaymentMethod,
			Data:        req.PaymentData,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", database.ErrPaymentFailed, err)
		}

		switch result.Status {
		case payment.StatusFailed:
			return fmt.Errorf("%w: %s", database.ErrPaymentFailed, result.Message)
		case payment.StatusPending:
			if result.Reference != "" {
				if err := store.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentStatusPending, models.PaymentStatusPending, result.Reference); err != nil {
					return err
				}
				order.PaymentReference = result.Reference
			}
			return nil
		}

		captured = result
		return o.markPaid(ctx, tx, order, result.Reference)
	})
	if err != nil {
		o.metrics.Checkout(checkoutResult(err))
		if captured != nil {
			o.logger.Error("payment captured but order rolled back",
				zap.Int64("user_id", req.UserID),
				zap.String("payment_reference", captured.Reference),
				zap.Error(err),
			)
		}
		return nil, err
	}
	observed.Flush()

	o.metrics.Checkout(string(order.PaymentStatus))
	o.logger.Info("checkout completed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("payment_status", string(order.PaymentStatus)),
		zap.Int("coupons", len(order.Coupons)),
	)

	o.afterCheckout(ctx, order, cartIDs)
	return order, nil
}

func checkoutResult(err error) string {
	if errors.Is(err, database.ErrPaymentFailed) {
		return "payment_failed"
	}
	return string(database.KindOf(err))
}

// markPaid flips a pending order to paid, marks its coupons paid and
// settles it.
func (o *Orchestrator) markPaid(ctx context.Context, tx *sql.Tx, order *models.Order, reference string) error {
	if err := store.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentStatusPending, models.PaymentStatusPaid, reference); err != nil {
		return err
	}
	order.PaymentStatus = models.PaymentStatusPaid
	if reference != "" {
		order.PaymentReference = reference
	}

	coupons, err := o.coupons.MarkOrderPaid(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	order.Coupons = coupons

	return o.settle(ctx, tx, order)
}

// Wait blocks until every post-commit hook started so far has finished.
func (o *Orchestrator) Wait() {
	o.hooks.Wait()
}

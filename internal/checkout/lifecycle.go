package checkout

import (
	"context"
	"database/sql"
	"sort"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"go.uber.org/zap"
)

// ConfirmPayment records payment for a pending order, typically cash taken
// at the counter, and settles it.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, orderID int64, reference string) (*models.Order, error) {
	var order *models.Order

	ctx, observed := metrics.WithDeferred(ctx)
	err := database.WithRetry(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		observed.Reset()
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != models.PaymentStatusPending {
			return orderRefused(order, models.PaymentStatusPaid, database.ErrInvalidTransition)
		}
		return o.markPaid(ctx, tx, order, reference)
	})
	if err != nil {
		return nil, err
	}
	observed.Flush()

	o.logger.Info("payment confirmed",
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_method", string(order.PaymentMethod)),
	)
	o.afterPayment(ctx, order)
	return order, nil
}

// offerIDs lists the distinct offers of an order's lines in id order.
func offerIDs(items []models.OrderItem) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, item := range items {
		if !seen[item.OfferID] {
			seen[item.OfferID] = true
			ids = append(ids, item.OfferID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// releaseReuses gives back the uses taken from catalog coupons.
func releaseReuses(ctx context.Context, tx *sql.Tx, items []models.OrderItem) error {
	for _, item := range items {
		if item.CouponID == nil {
			continue
		}
		if err := store.DecrementTimesUsed(ctx, tx, *item.CouponID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Cancel abandons an unpaid order: its coupons are cancelled, inventory is
// restored and payment is marked failed. Nothing was posted to the ledger.
func (o *Orchestrator) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order

	ctx, observed := metrics.WithDeferred(ctx)
	err := database.WithRetry(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		observed.Reset()
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != models.PaymentStatusPending {
			return orderRefused(order, models.PaymentStatusFailed, database.ErrNotCancellable)
		}

		if err := store.LockOffersForUpdate(ctx, tx, offerIDs(order.Items)); err != nil {
			return err
		}

		coupons, err := store.LockOrderCoupons(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		for i := range coupons {
			c := &coupons[i]
			if c.Status == models.CouponStatusCancelled || c.Status == models.CouponStatusExpired {
				continue
			}
			if err := o.coupons.Cancel(ctx, tx, c); err != nil {
				return err
			}
		}
		order.Coupons = coupons

		if err := releaseReuses(ctx, tx, order.Items); err != nil {
			return err
		}

		if err := store.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentStatusPending, models.PaymentStatusFailed, ""); err != nil {
			return err
		}
		order.PaymentStatus = models.PaymentStatusFailed
		return nil
	})
	if err != nil {
		return nil, err
	}
	observed.Flush()

	o.logger.Info("order cancelled", zap.String("order_number", order.OrderNumber))
	return order, nil
}

// Refund reverses a paid order whose coupons have not been redeemed. The
// merchant and platform shares are debited back and the coupons voided.
func (o *Orchestrator) Refund(ctx context.Context, orderID int64, actorID *int64) (*models.Order, error) {
	var order *models.Order

	ctx, observed := metrics.WithDeferred(ctx)
	err := database.WithRetry(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		observed.Reset()
		var err error
		order, err = store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != models.PaymentStatusPaid {
			return orderRefused(order, models.PaymentStatusRefunded, database.ErrNotRefundable)
		}

		if err := store.LockOffersForUpdate(ctx, tx, offerIDs(order.Items)); err != nil {
			return err
		}

		coupons, err := store.LockOrderCoupons(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		for _, c := range coupons {
			if c.Status == models.CouponStatusActivated || c.Status == models.CouponStatusUsed {
				return orderRefused(order, models.PaymentStatusRefunded, database.ErrNotRefundable)
			}
		}
		for i := range coupons {
			if coupons[i].Status != models.CouponStatusPaid {
				continue
			}
			if err := o.coupons.Void(ctx, tx, &coupons[i]); err != nil {
				return err
			}
		}
		order.Coupons = coupons

		if err := releaseReuses(ctx, tx, order.Items); err != nil {
			return err
		}

		if err := o.reverse(ctx, tx, order, actorID); err != nil {
			return err
		}

		if err := store.UpdatePaymentStatus(ctx, tx, order.ID, models.PaymentStatusPaid, models.PaymentStatusRefunded, ""); err != nil {
			return err
		}
		order.PaymentStatus = models.PaymentStatusRefunded
		return nil
	})
	if err != nil {
		return nil, err
	}
	observed.Flush()

	o.logger.Info("order refunded",
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	o.afterRefund(ctx, order)
	return order, nil
}

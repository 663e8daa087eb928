package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service owns every coupon status change and the offer inventory counter
// tied to it. Methods taking a *sql.Tx run inside the caller's transaction;
// the rest open their own.
type Service struct {
	db      *sql.DB
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(db *sql.DB, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{db: db, logger: logger, metrics: m, now: time.Now}
}

func refused(c *models.Coupon, to string, cause error) error {
	return &database.TransitionError{
		Entity: "coupon",
		ID:     c.ID,
		From:   string(c.Status),
		To:     to,
		Err:    cause,
	}
}

// inTx runs fn in a retried transaction. Coupon metrics observed by fn are
// recorded only after the commit.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, observed := metrics.WithDeferred(ctx)
	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		observed.Reset()
		return fn(ctx, tx)
	})
	if err != nil {
		return err
	}
	observed.Flush()
	return nil
}

func (s *Service) transition(ctx context.Context, tx *sql.Tx, c *models.Coupon, to models.CouponStatus, cause error) error {
	if !c.Status.CanTransitionTo(to) {
		return refused(c, string(to), cause)
	}
	if err := store.UpdateCouponStatus(ctx, tx, c.ID, c.Status, to); err != nil {
		return err
	}
	s.metrics.CouponTransition(ctx, string(c.Status), string(to))
	c.Status = to
	return nil
}

func discountFor(offer *models.Offer) (percent, amount decimal.Decimal) {
	if offer.DiscountType == models.DiscountPercent {
		return offer.DiscountValue, offer.Price.Mul(offer.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	}
	return decimal.Zero, offer.DiscountValue
}

func couponFromOffer(offer *models.Offer, origin models.CouponOrigin, status models.CouponStatus) *models.Coupon {
	percent, amount := discountFor(offer)
	return &models.Coupon{
		MerchantID:      offer.MerchantID,
		Origin:          origin,
		Status:          status,
		UsageLimit:      offer.UsageLimit,
		DiscountType:    offer.DiscountType,
		DiscountPercent: percent,
		DiscountAmount:  amount,
		ExpiresAt:       offer.ValidUntil,
	}
}

// IssueCatalog creates the pending catalog coupon for an offer and links it
// as the offer's reusable coupon.
func (s *Service) IssueCatalog(ctx context.Context, offerID int64) (*models.Coupon, error) {
	var coupon *models.Coupon

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		offer, err := store.LockOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if offer.CouponID != nil {
			return database.Invalid("offer_id", "offer %d already has catalog coupon %d", offer.ID, *offer.CouponID)
		}

		if err := store.DecrementCouponsRemaining(ctx, tx, offer.ID, 1); err != nil {
			return err
		}

		coupon = couponFromOffer(offer, models.CatalogOrigin(offer.ID), models.CouponStatusPending)
		if err := insertWithCodes(ctx, tx, coupon); err != nil {
			return err
		}

		return store.LinkOfferCoupon(ctx, tx, offer.ID, coupon.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("catalog coupon issued",
		zap.Int64("coupon_id", coupon.ID),
		zap.Int64("offer_id", offerID),
		zap.String("code", coupon.CouponCode),
	)
	return coupon, nil
}

// IssueForOrder takes quantity units of the offer's inventory and issues
// one reserved coupon per unit to the buyer.
func (s *Service) IssueForOrder(ctx context.Context, tx *sql.Tx, offer *models.Offer, orderID, userID int64, quantity int) ([]models.Coupon, error) {
	if quantity <= 0 {
		return nil, database.Invalid("quantity", "must be positive, got %d", quantity)
	}

	if err := store.DecrementCouponsRemaining(ctx, tx, offer.ID, quantity); err != nil {
		return nil, fmt.Errorf("offer %d: %w", offer.ID, err)
	}

	coupons := make([]models.Coupon, 0, quantity)
	for i := 0; i < quantity; i++ {
		c := couponFromOffer(offer, models.OrderOrigin(orderID, userID, offer.ID), models.CouponStatusReserved)
		if err := insertWithCodes(ctx, tx, c); err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	return coupons, nil
}

// Reuse charges quantity uses against a published catalog coupon instead
// of issuing new ones.
func (s *Service) Reuse(ctx context.Context, tx *sql.Tx, couponID, offerID int64, quantity int) (*models.Coupon, error) {
	c, err := store.LockCoupon(ctx, tx, couponID)
	if err != nil {
		return nil, err
	}

	if c.Origin.Kind != models.OriginCatalog || c.Origin.OfferID == nil || *c.Origin.OfferID != offerID {
		return nil, database.Invalid("coupon_id", "coupon %d is not the catalog coupon of offer %d", couponID, offerID)
	}
	if c.Status != models.CouponStatusReserved {
		return nil, refused(c, "reused", database.ErrNotActivatable)
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, refused(c, "reused", database.ErrCouponExpired)
	}

	if err := store.IncrementTimesUsed(ctx, tx, c.ID, quantity); err != nil {
		if errors.Is(err, database.ErrUsageLimitExceeded) {
			return nil, refused(c, "reused", err)
		}
		return nil, err
	}
	c.TimesUsed += quantity
	return c, nil
}

// Publish makes a pending catalog coupon redeemable.
func (s *Service) Publish(ctx context.Context, couponID int64) (*models.Coupon, error) {
	var coupon *models.Coupon

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c, err := store.LockCoupon(ctx, tx, couponID)
		if err != nil {
			return err
		}
		if c.Origin.Kind != models.OriginCatalog {
			return database.Invalid("coupon_id", "only catalog coupons are published")
		}
		if c.Status != models.CouponStatusPending {
			return refused(c, string(models.CouponStatusReserved), database.ErrInvalidTransition)
		}
		if err := s.transition(ctx, tx, c, models.CouponStatusReserved, database.ErrInvalidTransition); err != nil {
			return err
		}
		coupon = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

// MarkPaid moves a reserved coupon to paid. Coupons already paid or further
// along are left as they are.
func (s *Service) MarkPaid(ctx context.Context, tx *sql.Tx, c *models.Coupon) error {
	switch c.Status {
	case models.CouponStatusPaid, models.CouponStatusActivated, models.CouponStatusUsed:
		return nil
	}
	return s.transition(ctx, tx, c, models.CouponStatusPaid, database.ErrInvalidTransition)
}

// MarkOrderPaid runs MarkPaid over every coupon issued for the order.
func (s *Service) MarkOrderPaid(ctx context.Context, tx *sql.Tx, orderID int64) ([]models.Coupon, error) {
	coupons, err := store.LockOrderCoupons(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range coupons {
		if err := s.MarkPaid(ctx, tx, &coupons[i]); err != nil {
			return nil, err
		}
	}
	return coupons, nil
}

type ActivateRequest struct {
	// Code is a coupon code or barcode value. CouponID is used when empty.
	Code       string
	CouponID   int64
	MerchantID int64
	StaffID    int64
	Channel    Channel
}

// Activate records one in-store redemption. A coupon found past its expiry
// is expired and committed before the refusal is returned.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*models.Coupon, error) {
	if req.Code == "" && req.CouponID == 0 {
		return nil, database.Invalid("code", "coupon code or id required")
	}
	if _, ok := channelStatuses[req.Channel]; !ok {
		return nil, database.Invalid("channel", "unknown activation channel %q", req.Channel)
	}

	var (
		coupon  *models.Coupon
		expired error
	)

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		expired = nil

		var c *models.Coupon
		var err error
		if req.Code != "" {
			c, err = store.LockCouponByCode(ctx, tx, req.Code)
		} else {
			c, err = store.LockCoupon(ctx, tx, req.CouponID)
		}
		if err != nil {
			return err
		}

		if c.MerchantID != req.MerchantID {
			return refused(c, string(models.CouponStatusActivated), database.ErrNotActivatable)
		}

		if !s.now().Before(c.ExpiresAt) && c.Status.CanTransitionTo(models.CouponStatusExpired) {
			expired = refused(c, string(models.CouponStatusActivated), database.ErrCouponExpired)
			return s.transition(ctx, tx, c, models.CouponStatusExpired, database.ErrCouponExpired)
		}

		if err := checkActivatable(c, req.Channel); err != nil {
			return err
		}

		coupon, err = store.RecordActivation(ctx, tx, c.ID, c.Status, req.StaffID)
		if err != nil {
			return err
		}
		s.metrics.CouponTransition(ctx, string(c.Status), string(coupon.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		return nil, expired
	}

	s.logger.Info("coupon activated",
		zap.Int64("coupon_id", coupon.ID),
		zap.Int64("merchant_id", req.MerchantID),
		zap.String("channel", string(req.Channel)),
		zap.Int("times_used", coupon.TimesUsed),
		zap.Int("usage_limit", coupon.UsageLimit),
	)
	return coupon, nil
}

// checkActivatable applies the activation rules: an activated coupon can be
// redeemed again until its limit, a first activation depends on the channel.
func checkActivatable(c *models.Coupon, ch Channel) error {
	to := string(models.CouponStatusActivated)
	switch c.Status {
	case models.CouponStatusActivated:
		if c.RemainingUses() <= 0 {
			return refused(c, to, database.ErrUsageLimitExceeded)
		}
		return nil
	case models.CouponStatusUsed:
		if c.RemainingUses() <= 0 {
			return refused(c, to, database.ErrUsageLimitExceeded)
		}
		return refused(c, to, database.ErrAlreadyActivated)
	case models.CouponStatusReserved, models.CouponStatusPaid:
		if !ch.Accepts(c.Status) {
			return refused(c, to, database.ErrNotActivatable)
		}
		if c.RemainingUses() <= 0 {
			return refused(c, to, database.ErrUsageLimitExceeded)
		}
		return nil
	}
	return refused(c, to, database.ErrNotActivatable)
}

// Use finalizes a coupon whose every use has been activated.
func (s *Service) Use(ctx context.Context, couponID int64) (*models.Coupon, error) {
	var coupon *models.Coupon

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c, err := store.LockCoupon(ctx, tx, couponID)
		if err != nil {
			return err
		}
		if c.Status != models.CouponStatusActivated || c.RemainingUses() > 0 {
			return refused(c, string(models.CouponStatusUsed), database.ErrInvalidTransition)
		}
		if err := s.transition(ctx, tx, c, models.CouponStatusUsed, database.ErrInvalidTransition); err != nil {
			return err
		}
		coupon = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

// Cancel releases a coupon that was never paid for and gives its unit back
// to the offer.
func (s *Service) Cancel(ctx context.Context, tx *sql.Tx, c *models.Coupon) error {
	if c.Status != models.CouponStatusPending && c.Status != models.CouponStatusReserved {
		return refused(c, string(models.CouponStatusCancelled), database.ErrNotCancellable)
	}
	return s.retire(ctx, tx, c, database.ErrNotCancellable)
}

// CancelByID is Cancel in its own transaction.
func (s *Service) CancelByID(ctx context.Context, couponID int64) (*models.Coupon, error) {
	var coupon *models.Coupon
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c, err := store.LockCoupon(ctx, tx, couponID)
		if err != nil {
			return err
		}
		if err := s.Cancel(ctx, tx, c); err != nil {
			return err
		}
		coupon = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

// Void cancels a paid, unredeemed coupon during a refund.
func (s *Service) Void(ctx context.Context, tx *sql.Tx, c *models.Coupon) error {
	if c.Status != models.CouponStatusPaid {
		return refused(c, string(models.CouponStatusCancelled), database.ErrNotRefundable)
	}
	return s.retire(ctx, tx, c, database.ErrNotRefundable)
}

func (s *Service) retire(ctx context.Context, tx *sql.Tx, c *models.Coupon, cause error) error {
	if err := s.transition(ctx, tx, c, models.CouponStatusCancelled, cause); err != nil {
		return err
	}
	if c.Origin.OfferID != nil {
		if err := store.IncrementCouponsRemaining(ctx, tx, *c.Origin.OfferID, 1); err != nil {
			return err
		}
	}
	return nil
}

// Expire moves a pre-terminal coupon to expired.
func (s *Service) Expire(ctx context.Context, tx *sql.Tx, c *models.Coupon) error {
	return s.transition(ctx, tx, c, models.CouponStatusExpired, database.ErrInvalidTransition)
}

// ExpireDue expires up to batch coupons whose expiry has passed. Concurrent
// sweepers skip each other's rows.
func (s *Service) ExpireDue(ctx context.Context, batch int) (int, error) {
	var expired int

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		expired = 0
		due, err := store.LockDueCoupons(ctx, tx, s.now(), batch)
		if err != nil {
			return err
		}
		for i := range due {
			if err := s.Expire(ctx, tx, &due[i]); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.Expired(expired)
	return expired, nil
}

// Delete removes a coupon that was never redeemed.
func (s *Service) Delete(ctx context.Context, couponID int64) error {
	return s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c, err := store.LockCoupon(ctx, tx, couponID)
		if err != nil {
			return err
		}
		if !c.Status.Deletable() || c.TimesUsed > 0 {
			return refused(c, "deleted", database.ErrInvalidTransition)
		}
		if err := store.UnlinkOfferCoupon(ctx, tx, c.ID); err != nil {
			return err
		}
		return store.DeleteCoupon(ctx, tx, c.ID)
	})
}

// DeleteOffer soft-deletes an offer. Its unredeemed catalog coupons are
// removed; any coupon with redemption history is kept.
func (s *Service) DeleteOffer(ctx context.Context, offerID int64) (removed int, err error) {
	err = s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		removed = 0
		if _, err := store.LockOffer(ctx, tx, offerID); err != nil {
			return err
		}

		coupons, err := store.LockOfferCoupons(ctx, tx, offerID)
		if err != nil {
			return err
		}

		if err := store.SoftDeleteOffer(ctx, tx, offerID); err != nil {
			return err
		}
		if err := store.DeleteCartItemsForOffer(ctx, tx, offerID); err != nil {
			return err
		}

		for _, c := range coupons {
			if c.Origin.Kind != models.OriginCatalog || !c.Status.Deletable() || c.TimesUsed > 0 {
				continue
			}
			if err := store.DeleteCoupon(ctx, tx, c.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("offer deleted", zap.Int64("offer_id", offerID), zap.Int("coupons_removed", removed))
	return removed, nil
}

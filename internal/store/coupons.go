package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
)

const couponColumns = `id, merchant_id, origin, offer_id, order_id, user_id, status, usage_limit,
	times_used, discount_type, discount_percent, discount_amount, coupon_code, barcode,
	barcode_value, expires_at, activated_at, activated_by, used_at, created_at, updated_at`

// preTerminal lists the statuses from which a coupon can still expire.
var preTerminal = []string{
	string(models.CouponStatusPending),
	string(models.CouponStatusReserved),
	string(models.CouponStatusPaid),
	string(models.CouponStatusActivated),
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	c := &models.Coupon{}
	var origin, status, discountType string
	err := row.Scan(
		&c.ID,
		&c.MerchantID,
		&origin,
		&c.Origin.OfferID,
		&c.Origin.OrderID,
		&c.Origin.UserID,
		&status,
		&c.UsageLimit,
		&c.TimesUsed,
		&discountType,
		&c.DiscountPercent,
		&c.DiscountAmount,
		&c.CouponCode,
		&c.Barcode,
		&c.BarcodeValue,
		&c.ExpiresAt,
		&c.ActivatedAt,
		&c.ActivatedBy,
		&c.UsedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Origin.Kind = models.OriginKind(origin)
	if c.Status, err = models.ParseCouponStatus(status); err != nil {
		return nil, err
	}
	if c.DiscountType, err = models.ParseDiscountType(discountType); err != nil {
		return nil, err
	}
	return c, nil
}

func InsertCoupon(ctx context.Context, tx *sql.Tx, c *models.Coupon) error {
	if err := c.Origin.Validate(); err != nil {
		return database.Invalid("origin", "%v", err)
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO coupons (merchant_id, origin, offer_id, order_id, user_id, status, usage_limit,
		                      times_used, discount_type, discount_percent, discount_amount, coupon_code,
		                      barcode, barcode_value, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		c.MerchantID, c.Origin.Kind, c.Origin.OfferID, c.Origin.OrderID, c.Origin.UserID, c.Status,
		c.UsageLimit, c.TimesUsed, c.DiscountType, c.DiscountPercent, c.DiscountAmount, c.CouponCode,
		c.Barcode, c.BarcodeValue, c.ExpiresAt).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}

	return nil
}

func GetCoupon(ctx context.Context, db database.Querier, id int64) (*models.Coupon, error) {
	coupon, err := scanCoupon(db.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return coupon, nil
}

// GetCouponByCode resolves either the printed coupon code or the scanned
// barcode value.
func GetCouponByCode(ctx context.Context, db database.Querier, code string) (*models.Coupon, error) {
	coupon, err := scanCoupon(db.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE coupon_code = $1 OR barcode_value = $1`, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}
	return coupon, nil
}

func LockCoupon(ctx context.Context, tx *sql.Tx, id int64) (*models.Coupon, error) {
	coupon, err := scanCoupon(tx.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}
	return coupon, nil
}

func LockCouponByCode(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error) {
	coupon, err := scanCoupon(tx.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE coupon_code = $1 OR barcode_value = $1 FOR UPDATE`, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon by code: %w", err)
	}
	return coupon, nil
}

func ListOrderCoupons(ctx context.Context, db database.Querier, orderID int64) ([]models.Coupon, error) {
	return queryCoupons(ctx, db,
		`SELECT `+couponColumns+` FROM coupons WHERE order_id = $1 ORDER BY id`, orderID)
}

func LockOrderCoupons(ctx context.Context, tx *sql.Tx, orderID int64) ([]models.Coupon, error) {
	return queryCoupons(ctx, tx,
		`SELECT `+couponColumns+` FROM coupons WHERE order_id = $1 ORDER BY id FOR UPDATE`, orderID)
}

func LockOfferCoupons(ctx context.Context, tx *sql.Tx, offerID int64) ([]models.Coupon, error) {
	return queryCoupons(ctx, tx,
		`SELECT `+couponColumns+` FROM coupons WHERE offer_id = $1 ORDER BY id FOR UPDATE`, offerID)
}

// LockDueCoupons claims up to limit coupons whose expiry has passed while
// still pre-terminal. Rows locked by a concurrent sweeper are skipped.
func LockDueCoupons(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]models.Coupon, error) {
	return queryCoupons(ctx, tx,
		`SELECT `+couponColumns+`
		 FROM coupons
		 WHERE status = ANY($1)
		   AND expires_at <= $2
		 ORDER BY expires_at
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		pq.Array(preTerminal), now, limit)
}

func queryCoupons(ctx context.Context, db database.Querier, query string, args ...any) ([]models.Coupon, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []models.Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *coupon)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return coupons, nil
}

// UpdateCouponStatus moves a coupon from one status to another. The WHERE
// clause on the current status makes the write a no-op if another
// transaction moved the coupon first.
func UpdateCouponStatus(ctx context.Context, tx *sql.Tx, id int64, from, to models.CouponStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE coupons
		 SET status = $1,
		     used_at = CASE WHEN $1 = 'used' THEN NOW() ELSE used_at END,
		     updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("update coupon status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// RecordActivation stamps one redemption. times_used never passes
// usage_limit.
func RecordActivation(ctx context.Context, tx *sql.Tx, id int64, from models.CouponStatus, activatedBy int64) (*models.Coupon, error) {
	coupon, err := scanCoupon(tx.QueryRowContext(ctx,
		`UPDATE coupons
		 SET status = 'activated',
		     times_used = times_used + 1,
		     activated_at = NOW(),
		     activated_by = $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND status = $3
		   AND times_used < usage_limit
		 RETURNING `+couponColumns,
		activatedBy, id, from))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("record activation: %w", err)
	}
	return coupon, nil
}

// IncrementTimesUsed consumes quantity uses of a reusable coupon.
func IncrementTimesUsed(ctx context.Context, tx *sql.Tx, id int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE coupons
		 SET times_used = times_used + $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND times_used + $1 <= usage_limit`,
		quantity, id)
	if err != nil {
		return fmt.Errorf("increment times used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrUsageLimitExceeded
	}

	return nil
}

func DecrementTimesUsed(ctx context.Context, tx *sql.Tx, id int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE coupons
		 SET times_used = GREATEST(times_used - $1, 0),
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, id)
	if err != nil {
		return fmt.Errorf("decrement times used: %w", err)
	}
	return nil
}

func DeleteCoupon(ctx context.Context, tx *sql.Tx, id int64) error {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM coupons WHERE id = $1 AND status NOT IN ('activated', 'used')`, id)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/shopspring/decimal"
)

const offerColumns = `id, merchant_id, category_id, coupon_id, title, price, discount_type,
	discount_value, usage_limit, valid_from, valid_until, coupons_remaining, status,
	created_at, updated_at, deleted_at`

type CreateOfferRequest struct {
	MerchantID    int64
	CategoryID    *int64
	Title         string
	Price         decimal.Decimal
	DiscountType  models.DiscountType
	DiscountValue decimal.Decimal
	UsageLimit    int
	ValidFrom     time.Time
	ValidUntil    time.Time
	Inventory     int
	Status        models.OfferStatus
}

func scanOffer(row rowScanner) (*models.Offer, error) {
	o := &models.Offer{}
	var discountType, status string
	err := row.Scan(
		&o.ID,
		&o.MerchantID,
		&o.CategoryID,
		&o.CouponID,
		&o.Title,
		&o.Price,
		&discountType,
		&o.DiscountValue,
		&o.UsageLimit,
		&o.ValidFrom,
		&o.ValidUntil,
		&o.CouponsRemaining,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.DiscountType, err = models.ParseDiscountType(discountType); err != nil {
		return nil, err
	}
	if o.Status, err = models.ParseOfferStatus(status); err != nil {
		return nil, err
	}
	return o, nil
}

func CreateOffer(ctx context.Context, db database.Querier, req CreateOfferRequest) (*models.Offer, error) {
	if req.Status == "" {
		req.Status = models.OfferStatusPending
	}
	if req.UsageLimit == 0 {
		req.UsageLimit = 1
	}

	offer, err := scanOffer(db.QueryRowContext(ctx,
		`INSERT INTO offers (merchant_id, category_id, title, price, discount_type, discount_value,
		                     usage_limit, valid_from, valid_until, coupons_remaining, status,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		 RETURNING `+offerColumns,
		req.MerchantID, req.CategoryID, req.Title, req.Price, req.DiscountType, req.DiscountValue,
		req.UsageLimit, req.ValidFrom, req.ValidUntil, req.Inventory, req.Status))
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	return offer, nil
}

func GetOffer(ctx context.Context, db database.Querier, id int64) (*models.Offer, error) {
	offer, err := scanOffer(db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOfferNotFound
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return offer, nil
}

func LockOffer(ctx context.Context, tx *sql.Tx, id int64) (*models.Offer, error) {
	offer, err := scanOffer(tx.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOfferNotFound
		}
		return nil, fmt.Errorf("lock offer: %w", err)
	}
	return offer, nil
}

// LockOffersForUpdate locks offer rows in id order, deleted ones included,
// before their inventory is given back.
func LockOffersForUpdate(ctx context.Context, tx *sql.Tx, ids []int64) error {
	_, err := tx.ExecContext(ctx,
		`SELECT id FROM offers WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("lock offers: %w", err)
	}
	return nil
}

// DecrementCouponsRemaining is a conditional update: it never takes the
// counter below zero, so two writers racing for the last coupon cannot both
// succeed.
func DecrementCouponsRemaining(ctx context.Context, tx *sql.Tx, offerID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE offers
		 SET coupons_remaining = coupons_remaining - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND deleted_at IS NULL
		   AND coupons_remaining >= $1`,
		quantity, offerID)
	if err != nil {
		return fmt.Errorf("decrement coupons remaining: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientCoupons
	}

	return nil
}

func IncrementCouponsRemaining(ctx context.Context, tx *sql.Tx, offerID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offers
		 SET coupons_remaining = coupons_remaining + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, offerID)
	if err != nil {
		return fmt.Errorf("increment coupons remaining: %w", err)
	}
	return nil
}

// LinkOfferCoupon points a live offer at its catalog coupon. The partial
// unique index on offers(coupon_id) rejects a second live link.
func LinkOfferCoupon(ctx context.Context, tx *sql.Tx, offerID, couponID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offers SET coupon_id = $1, updated_at = NOW() WHERE id = $2`,
		couponID, offerID)
	if err != nil {
		return fmt.Errorf("link offer coupon: %w", err)
	}
	return nil
}

func UnlinkOfferCoupon(ctx context.Context, tx *sql.Tx, couponID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offers SET coupon_id = NULL, updated_at = NOW() WHERE coupon_id = $1`,
		couponID)
	if err != nil {
		return fmt.Errorf("unlink offer coupon: %w", err)
	}
	return nil
}

func UpdateOfferStatus(ctx context.Context, db database.Querier, id int64, status models.OfferStatus) error {
	result, err := db.ExecContext(ctx,
		`UPDATE offers SET status = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`,
		status, id)
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOfferNotFound
	}

	return nil
}

func SoftDeleteOffer(ctx context.Context, tx *sql.Tx, id int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE offers
		 SET deleted_at = NOW(),
		     coupon_id = NULL,
		     status = $1,
		     updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		models.OfferStatusDisabled, id)
	if err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOfferNotFound
	}

	return nil
}

func ListOffers(ctx context.Context, db database.Querier, merchantID int64, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offers WHERE merchant_id = $1 AND deleted_at IS NULL`,
		merchantID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count offers: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := db.QueryContext(ctx,
		`SELECT `+offerColumns+`
		 FROM offers
		 WHERE merchant_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		merchantID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, *offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &OffsetPage{
		Items:      offers,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

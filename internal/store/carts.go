package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
)

func AddCartItem(ctx context.Context, db database.Querier, item *models.CartItem) error {
	if item.Quantity <= 0 {
		return database.Invalid("quantity", "must be positive, got %d", item.Quantity)
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO cart_items (user_id, offer_id, coupon_id, quantity, price_at_add, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		item.UserID, item.OfferID, item.CouponID, item.Quantity, item.PriceAtAdd).Scan(
		&item.ID,
		&item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

// GetCart returns the user's cart lines in insertion order.
func GetCart(ctx context.Context, db database.Querier, userID int64) ([]models.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, offer_id, coupon_id, quantity, price_at_add, created_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.OfferID,
			&item.CouponID,
			&item.Quantity,
			&item.PriceAtAdd,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ClearCart(ctx context.Context, db database.Querier, userID int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// DeleteCartItems removes the given lines from the user's cart. Lines added
// after they were read are left alone.
func DeleteCartItems(ctx context.Context, db database.Querier, userID int64, ids []int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)`,
		userID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}

// DeleteCartItemsForOffer drops every cart line pointing at a withdrawn
// offer.
func DeleteCartItemsForOffer(ctx context.Context, db database.Querier, offerID int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE offer_id = $1`, offerID); err != nil {
		return fmt.Errorf("delete cart items for offer: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, order_number, total_amount, payment_method, payment_status,
	COALESCE(payment_reference, ''), paid_at, created_at, updated_at`

const orderItemColumns = `id, order_id, offer_id, merchant_id, coupon_id, quantity, unit_price,
	subtotal, created_at`

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	var method, status string
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.OrderNumber,
		&o.TotalAmount,
		&method,
		&status,
		&o.PaymentReference,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.PaymentMethod, err = models.ParsePaymentMethod(method); err != nil {
		return nil, err
	}
	if o.PaymentStatus, err = models.ParsePaymentStatus(status); err != nil {
		return nil, err
	}
	return o, nil
}

// InsertOrder writes a pending order and fills in its generated fields.
func InsertOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	if o.OrderNumber == "" {
		o.OrderNumber = generateOrderNumber()
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = models.PaymentStatusPending
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, total_amount, payment_method, payment_status,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		o.UserID, o.OrderNumber, o.TotalAmount, o.PaymentMethod, o.PaymentStatus).Scan(
		&o.ID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	return nil
}

func InsertOrderItem(ctx context.Context, tx *sql.Tx, item *models.OrderItem) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_items (order_id, offer_id, merchant_id, coupon_id, quantity, unit_price,
		                          subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		item.OrderID, item.OfferID, item.MerchantID, item.CouponID, item.Quantity, item.UnitPrice,
		item.Subtotal).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order item: %w", err)
	}
	return nil
}

// GetOrder loads an order with its items and issued coupons.
func GetOrder(ctx context.Context, db database.Querier, id int64) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Items, err = ListOrderItems(ctx, db, id); err != nil {
		return nil, err
	}
	if order.Coupons, err = ListOrderCoupons(ctx, db, id); err != nil {
		return nil, err
	}

	return order, nil
}

func LockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if order.Items, err = ListOrderItems(ctx, tx, id); err != nil {
		return nil, err
	}

	return order, nil
}

func ListOrderItems(ctx context.Context, db database.Querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.OfferID,
			&item.MerchantID,
			&item.CouponID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpdatePaymentStatus moves an order's payment status, guarded on the
// status the caller observed.
func UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id int64, from, to models.PaymentStatus, reference string) error {
	var ref sql.NullString
	if reference != "" {
		ref = sql.NullString{String: reference, Valid: true}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET payment_status = $1,
		     payment_reference = COALESCE($2, payment_reference),
		     paid_at = CASE WHEN $1 = 'paid' THEN NOW() ELSE paid_at END,
		     updated_at = NOW()
		 WHERE id = $3 AND payment_status = $4`,
		to, ref, id, from)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
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

func ListOrdersCursor(ctx context.Context, db database.Querier, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		   AND (created_at, id) < ($2, $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// OrderSale is one merchant's share of a paid order.
type OrderSale struct {
	OrderID int64
	Amount  decimal.Decimal
	Units   int64
}

// ListMerchantOrderSales groups a merchant's paid order lines per order,
// the same granularity settlement posts at.
func ListMerchantOrderSales(ctx context.Context, db database.Querier, merchantID int64) ([]OrderSale, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT oi.order_id, SUM(oi.subtotal), SUM(oi.quantity)
		 FROM order_items oi
		 JOIN orders o ON o.id = oi.order_id
		 WHERE oi.merchant_id = $1
		   AND o.payment_status = $2
		 GROUP BY oi.order_id
		 ORDER BY oi.order_id`,
		merchantID, models.PaymentStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("list merchant sales: %w", err)
	}
	defer rows.Close()

	var sales []OrderSale
	for rows.Next() {
		var sale OrderSale
		if err := rows.Scan(&sale.OrderID, &sale.Amount, &sale.Units); err != nil {
			return nil, fmt.Errorf("scan merchant sale: %w", err)
		}
		sales = append(sales, sale)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return sales, nil
}

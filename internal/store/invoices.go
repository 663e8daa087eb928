package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
)

// InsertInvoice is idempotent per order: a second call returns the invoice
// written by the first.
func InsertInvoice(ctx context.Context, db database.Querier, inv *models.Invoice) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO invoices (order_id, invoice_number, amount, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (order_id) DO NOTHING`,
		inv.OrderID, inv.InvoiceNumber, inv.Amount)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	existing, err := GetInvoiceByOrder(ctx, db, inv.OrderID)
	if err != nil {
		return err
	}
	*inv = *existing
	return nil
}

func GetInvoiceByOrder(ctx context.Context, db database.Querier, orderID int64) (*models.Invoice, error) {
	inv := &models.Invoice{}
	err := db.QueryRowContext(ctx,
		`SELECT id, order_id, invoice_number, amount, created_at
		 FROM invoices
		 WHERE order_id = $1`,
		orderID).Scan(&inv.ID, &inv.OrderID, &inv.InvoiceNumber, &inv.Amount, &inv.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

package invoice

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
)

type Generator struct {
	db *sql.DB
}

func NewGenerator(db *sql.DB) *Generator {
	return &Generator{db: db}
}

func Number(order *models.Order) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "INV-" + order.CreatedAt.UTC().Format("20060102") + "-" + suffix
}

// Generate persists the invoice for an order. Calling it again for the same
// order returns the existing invoice.
func (g *Generator) Generate(ctx context.Context, order *models.Order) (*models.Invoice, error) {
	inv := &models.Invoice{
		OrderID:       order.ID,
		InvoiceNumber: Number(order),
		Amount:        order.TotalAmount,
	}
	if err := store.InsertInvoice(ctx, g.db, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

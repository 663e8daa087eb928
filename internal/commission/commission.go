package commission

import (
	"context"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultRate is the platform's flat commission.
var DefaultRate = decimal.RequireFromString("0.10")

// Calculator splits sale amounts between merchant and platform. Settlement
// and the earnings report both go through Split so the two never drift.
type Calculator struct {
	rate decimal.Decimal
}

func NewCalculator(rate decimal.Decimal) (*Calculator, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, database.Invalid("commission_rate", "must be between 0 and 1, got %s", rate)
	}
	return &Calculator{rate: rate}, nil
}

func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// Commission is the platform share of sale, rounded to cents.
func (c *Calculator) Commission(sale decimal.Decimal) decimal.Decimal {
	return sale.Mul(c.rate).Round(2)
}

// Split returns the platform commission and the merchant net. They always
// add back up to sale.
func (c *Calculator) Split(sale decimal.Decimal) (commission, net decimal.Decimal) {
	commission = c.Commission(sale)
	return commission, sale.Sub(commission)
}

type Earnings struct {
	MerchantID int64           `json:"merchant_id"`
	Gross      decimal.Decimal `json:"gross"`
	Commission decimal.Decimal `json:"commission"`
	Net        decimal.Decimal `json:"net"`
	Orders     int             `json:"orders"`
	Units      int64           `json:"units"`
	Rate       decimal.Decimal `json:"rate"`
}

// EarningsReport totals a merchant's paid sales. Each order is split on its
// own, as settlement does, before summing.
func (c *Calculator) EarningsReport(ctx context.Context, db database.Querier, merchantID int64) (*Earnings, error) {
	sales, err := store.ListMerchantOrderSales(ctx, db, merchantID)
	if err != nil {
		return nil, fmt.Errorf("earnings report: %w", err)
	}
	return c.summarize(merchantID, sales), nil
}

func (c *Calculator) summarize(merchantID int64, sales []store.OrderSale) *Earnings {
	e := &Earnings{
		MerchantID: merchantID,
		Gross:      decimal.Zero,
		Commission: decimal.Zero,
		Net:        decimal.Zero,
		Orders:     len(sales),
		Rate:       c.rate,
	}
	for _, sale := range sales {
		commission, net := c.Split(sale.Amount)
		e.Gross = e.Gross.Add(sale.Amount)
		e.Commission = e.Commission.Add(commission)
		e.Net = e.Net.Add(net)
		e.Units += sale.Units
	}
	return e
}

// Rates lists the per-category table. It is reference data; Split always
// uses the flat rate.
func Rates(ctx context.Context, db database.Querier) ([]models.CommissionRate, error) {
	return store.ListCommissionRates(ctx, db)
}

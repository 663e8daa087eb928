package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/shopspring/decimal"
)

// CreateMerchant inserts a merchant together with its wallet. The opening
// balance is recorded as the wallet's initial balance so ledger
// verification can account for it.
func CreateMerchant(ctx context.Context, db *sql.DB, name, email string, categoryID *int64, openingBalance decimal.Decimal) (*models.Merchant, *models.Wallet, error) {
	var merchant *models.Merchant
	var wallet *models.Wallet

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		merchant = &models.Merchant{}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO merchants (name, email, category_id, created_at)
			 VALUES ($1, $2, $3, NOW())
			 RETURNING id, name, email, category_id, created_at`,
			name, email, categoryID).Scan(
			&merchant.ID,
			&merchant.Name,
			&merchant.Email,
			&merchant.CategoryID,
			&merchant.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create merchant: %w", err)
		}

		wallet, err = CreateWallet(ctx, tx, models.WalletTypeMerchant, merchant.ID, openingBalance)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return merchant, wallet, nil
}

func GetMerchant(ctx context.Context, db database.Querier, id int64) (*models.Merchant, error) {
	merchant := &models.Merchant{}

	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, category_id, created_at
		 FROM merchants
		 WHERE id = $1`,
		id).Scan(
		&merchant.ID,
		&merchant.Name,
		&merchant.Email,
		&merchant.CategoryID,
		&merchant.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrMerchantNotFound
		}
		return nil, fmt.Errorf("get merchant: %w", err)
	}

	return merchant, nil
}

func CreateCategory(ctx context.Context, db database.Querier, name string) (*models.Category, error) {
	category := &models.Category{}

	err := db.QueryRowContext(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id, name`,
		name).Scan(&category.ID, &category.Name)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}

	return category, nil
}

func SetCommissionRate(ctx context.Context, db database.Querier, categoryID int64, rate decimal.Decimal) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO commission_rates (category_id, rate)
		 VALUES ($1, $2)
		 ON CONFLICT (category_id) DO UPDATE SET rate = EXCLUDED.rate`,
		categoryID, rate)
	if err != nil {
		return fmt.Errorf("set commission rate: %w", err)
	}
	return nil
}

func ListCommissionRates(ctx context.Context, db database.Querier) ([]models.CommissionRate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT c.id, c.name, r.rate
		 FROM commission_rates r
		 JOIN categories c ON c.id = r.category_id
		 ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list commission rates: %w", err)
	}
	defer rows.Close()

	var rates []models.CommissionRate
	for rows.Next() {
		var rate models.CommissionRate
		if err := rows.Scan(&rate.CategoryID, &rate.CategoryName, &rate.Rate); err != nil {
			return nil, fmt.Errorf("scan commission rate: %w", err)
		}
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rates, nil
}

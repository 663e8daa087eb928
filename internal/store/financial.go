package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/shopspring/decimal"
)

func InsertFinancialTransaction(ctx context.Context, tx *sql.Tx, ft *models.FinancialTransaction) error {
	var description sql.NullString
	if ft.Description != "" {
		description = sql.NullString{String: ft.Description, Valid: true}
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO financial_transactions
		   (merchant_id, transaction_type, transaction_flow, amount, order_id, withdrawal_id,
		    description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		ft.MerchantID, ft.TransactionType, ft.TransactionFlow, ft.Amount, ft.OrderID,
		ft.WithdrawalID, description).Scan(&ft.ID, &ft.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert financial transaction: %w", err)
	}
	return nil
}

func ListFinancialTransactions(ctx context.Context, db database.Querier, merchantID int64) ([]models.FinancialTransaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, merchant_id, transaction_type, transaction_flow, amount, order_id,
		        withdrawal_id, COALESCE(description, ''), created_at
		 FROM financial_transactions
		 WHERE merchant_id = $1
		 ORDER BY id`,
		merchantID)
	if err != nil {
		return nil, fmt.Errorf("list financial transactions: %w", err)
	}
	defer rows.Close()

	var fts []models.FinancialTransaction
	for rows.Next() {
		var ft models.FinancialTransaction
		var flow string
		err := rows.Scan(
			&ft.ID,
			&ft.MerchantID,
			&ft.TransactionType,
			&flow,
			&ft.Amount,
			&ft.OrderID,
			&ft.WithdrawalID,
			&ft.Description,
			&ft.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan financial transaction: %w", err)
		}
		ft.TransactionFlow = models.TransactionFlow(flow)
		fts = append(fts, ft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return fts, nil
}

// FlowTotals sums a merchant's financial records by direction.
func FlowTotals(ctx context.Context, db database.Querier, merchantID int64) (incoming, outgoing decimal.Decimal, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount) FILTER (WHERE transaction_flow = 'incoming'), 0),
		        COALESCE(SUM(amount) FILTER (WHERE transaction_flow = 'outgoing'), 0)
		 FROM financial_transactions
		 WHERE merchant_id = $1`,
		merchantID).Scan(&incoming, &outgoing)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sum financial transactions: %w", err)
	}
	return incoming, outgoing, nil
}

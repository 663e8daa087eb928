package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/shopspring/decimal"
)

const walletColumns = `id, wallet_type, owner_id, balance, reserved_balance, initial_balance,
	is_frozen, currency, created_at, updated_at`

const walletTransactionColumns = `id, wallet_id, wallet_type, transaction_type, amount,
	balance_before, balance_after, COALESCE(related_type, ''), related_id,
	COALESCE(reason, ''), actor_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	w := &models.Wallet{}
	var walletType string
	err := row.Scan(
		&w.ID,
		&walletType,
		&w.OwnerID,
		&w.Balance,
		&w.ReservedBalance,
		&w.InitialBalance,
		&w.IsFrozen,
		&w.Currency,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.WalletType = models.WalletType(walletType)
	return w, nil
}

func scanWalletTransaction(row rowScanner) (*models.WalletTransaction, error) {
	t := &models.WalletTransaction{}
	var walletType, txType string
	err := row.Scan(
		&t.ID,
		&t.WalletID,
		&walletType,
		&txType,
		&t.Amount,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.RelatedType,
		&t.RelatedID,
		&t.Reason,
		&t.ActorID,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.WalletType = models.WalletType(walletType)
	t.TransactionType = models.TransactionType(txType)
	return t, nil
}

func CreateWallet(ctx context.Context, db database.Querier, walletType models.WalletType, ownerID int64, opening decimal.Decimal) (*models.Wallet, error) {
	row := db.QueryRowContext(ctx,
		`INSERT INTO wallets (wallet_type, owner_id, balance, initial_balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $3, NOW(), NOW())
		 RETURNING `+walletColumns,
		walletType, ownerID, opening)

	wallet, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return wallet, nil
}

func GetWallet(ctx context.Context, db database.Querier, id int64) (*models.Wallet, error) {
	wallet, err := scanWallet(db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return wallet, nil
}

func GetWalletByOwner(ctx context.Context, db database.Querier, walletType models.WalletType, ownerID int64) (*models.Wallet, error) {
	wallet, err := scanWallet(db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE wallet_type = $1 AND owner_id = $2`,
		walletType, ownerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}
	return wallet, nil
}

// LockWallet takes the row lock that serializes every posting to a wallet.
func LockWallet(ctx context.Context, tx *sql.Tx, id int64) (*models.Wallet, error) {
	wallet, err := scanWallet(tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrWalletNotFound
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return wallet, nil
}

// UpdateWalletBalances writes balances computed under LockWallet. Only the
// ledger package calls it.
func UpdateWalletBalances(ctx context.Context, tx *sql.Tx, id int64, balance, reserved decimal.Decimal) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE wallets
		 SET balance = $1,
		     reserved_balance = $2,
		     updated_at = NOW()
		 WHERE id = $3`,
		balance, reserved, id)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrWalletNotFound
	}

	return nil
}

func SetWalletFrozen(ctx context.Context, db database.Querier, id int64, frozen bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE wallets SET is_frozen = $1, updated_at = NOW() WHERE id = $2`,
		frozen, id)
	if err != nil {
		return fmt.Errorf("set wallet frozen: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrWalletNotFound
	}

	return nil
}

func InsertWalletTransaction(ctx context.Context, tx *sql.Tx, t *models.WalletTransaction) error {
	var relatedType, reason sql.NullString
	if t.RelatedType != "" {
		relatedType = sql.NullString{String: t.RelatedType, Valid: true}
	}
	if t.Reason != "" {
		reason = sql.NullString{String: t.Reason, Valid: true}
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO wallet_transactions
		   (wallet_id, wallet_type, transaction_type, amount, balance_before, balance_after,
		    related_type, related_id, reason, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		 RETURNING id, created_at`,
		t.WalletID, t.WalletType, t.TransactionType, t.Amount, t.BalanceBefore, t.BalanceAfter,
		relatedType, t.RelatedID, reason, t.ActorID).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}

	return nil
}

func ListWalletTransactionsCursor(ctx context.Context, db database.Querier, walletID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+walletTransactionColumns+`
		 FROM wallet_transactions
		 WHERE wallet_id = $1
		   AND (created_at, id) < ($2, $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		walletID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		t, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		txs = append(txs, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(txs) > limit
	if hasMore {
		txs = txs[:limit]
	}

	var nextCursor string
	if hasMore && len(txs) > 0 {
		last := txs[len(txs)-1]
		nextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      txs,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListWalletTransactions returns a wallet's full trail in posting order.
func ListWalletTransactions(ctx context.Context, db database.Querier, walletID int64) ([]models.WalletTransaction, error) {
	return queryWalletTransactions(ctx, db,
		`SELECT `+walletTransactionColumns+`
		 FROM wallet_transactions
		 WHERE wallet_id = $1
		 ORDER BY id`,
		walletID)
}

func ListWalletTransactionsByRelated(ctx context.Context, db database.Querier, relatedType string, relatedID int64) ([]models.WalletTransaction, error) {
	return queryWalletTransactions(ctx, db,
		`SELECT `+walletTransactionColumns+`
		 FROM wallet_transactions
		 WHERE related_type = $1 AND related_id = $2
		 ORDER BY id`,
		relatedType, relatedID)
}

func queryWalletTransactions(ctx context.Context, db database.Querier, query string, args ...any) ([]models.WalletTransaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		t, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		txs = append(txs, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return txs, nil
}

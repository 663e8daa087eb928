package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
)

const withdrawalColumns = `id, merchant_id, wallet_id, amount, method, status, approved_by,
	approved_at, rejected_by, rejected_at, COALESCE(rejection_reason, ''), completed_at,
	created_at, updated_at`

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	w := &models.Withdrawal{}
	var status string
	err := row.Scan(
		&w.ID,
		&w.MerchantID,
		&w.WalletID,
		&w.Amount,
		&w.Method,
		&status,
		&w.ApprovedBy,
		&w.ApprovedAt,
		&w.RejectedBy,
		&w.RejectedAt,
		&w.RejectionReason,
		&w.CompletedAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if w.Status, err = models.ParseWithdrawalStatus(status); err != nil {
		return nil, err
	}
	return w, nil
}

func InsertWithdrawal(ctx context.Context, tx *sql.Tx, w *models.Withdrawal) error {
	w.Status = models.WithdrawalStatusPending
	err := tx.QueryRowContext(ctx,
		`INSERT INTO withdrawals (merchant_id, wallet_id, amount, method, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		w.MerchantID, w.WalletID, w.Amount, w.Method, w.Status).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create withdrawal: %w", err)
	}
	return nil
}

func GetWithdrawal(ctx context.Context, db database.Querier, id int64) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

func LockWithdrawal(ctx context.Context, tx *sql.Tx, id int64) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("lock withdrawal: %w", err)
	}
	return w, nil
}

// TransitionWithdrawal applies a status change only if the row is still in
// from. actorID lands in approved_by or rejected_by depending on to.
func TransitionWithdrawal(ctx context.Context, tx *sql.Tx, id int64, from, to models.WithdrawalStatus, actorID *int64, reason string) (*models.Withdrawal, error) {
	var rejectionReason sql.NullString
	if reason != "" {
		rejectionReason = sql.NullString{String: reason, Valid: true}
	}

	w, err := scanWithdrawal(tx.QueryRowContext(ctx,
		`UPDATE withdrawals
		 SET status = $1,
		     approved_by = CASE WHEN $1 = 'approved' THEN $2 ELSE approved_by END,
		     approved_at = CASE WHEN $1 = 'approved' THEN NOW() ELSE approved_at END,
		     rejected_by = CASE WHEN $1 = 'rejected' THEN $2 ELSE rejected_by END,
		     rejected_at = CASE WHEN $1 = 'rejected' THEN NOW() ELSE rejected_at END,
		     rejection_reason = COALESCE($3, rejection_reason),
		     completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
		     updated_at = NOW()
		 WHERE id = $4 AND status = $5
		 RETURNING `+withdrawalColumns,
		to, actorID, rejectionReason, id, from))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update withdrawal status: %w", err)
	}
	return w, nil
}

func ListWithdrawals(ctx context.Context, db database.Querier, merchantID int64, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM withdrawals WHERE merchant_id = $1`,
		merchantID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count withdrawals: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := db.QueryContext(ctx,
		`SELECT `+withdrawalColumns+`
		 FROM withdrawals
		 WHERE merchant_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		merchantID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &OffsetPage{
		Items:      withdrawals,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

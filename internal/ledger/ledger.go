package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdminOwnerID is the owner of the single platform wallet.
const AdminOwnerID int64 = 0

const (
	RelatedOrder      = "order"
	RelatedWithdrawal = "withdrawal"
	RelatedAdjustment = "adjustment"
)

// Posting describes one balance change. Amount is always positive; the
// direction comes from the method used to post it.
type Posting struct {
	WalletID    int64
	Amount      decimal.Decimal
	Type        models.TransactionType
	RelatedType string
	RelatedID   *int64
	Reason      string
	ActorID     *int64
}

// Ledger is the only writer of wallet balances. Every method that takes a
// *sql.Tx locks the wallet row first, so postings to one wallet serialize
// and a caller can combine several postings into one atomic unit.
type Ledger struct {
	db      *sql.DB
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(db *sql.DB, logger *zap.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{db: db, logger: logger, metrics: m}
}

func validateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, database.Invalid("amount", "must be positive, got %s", amount)
	}
	return amount, nil
}

// Credit adds p.Amount to the wallet balance. Frozen wallets still accept
// credits.
func (l *Ledger) Credit(ctx context.Context, tx *sql.Tx, p Posting) (*models.WalletTransaction, error) {
	amount, err := validateAmount(p.Amount)
	if err != nil {
		return nil, err
	}

	wallet, err := store.LockWallet(ctx, tx, p.WalletID)
	if err != nil {
		return nil, err
	}

	return l.post(ctx, tx, wallet, p, amount, wallet.ReservedBalance)
}

// Debit removes p.Amount from the available balance.
func (l *Ledger) Debit(ctx context.Context, tx *sql.Tx, p Posting) (*models.WalletTransaction, error) {
	amount, err := validateAmount(p.Amount)
	if err != nil {
		return nil, err
	}

	wallet, err := store.LockWallet(ctx, tx, p.WalletID)
	if err != nil {
		return nil, err
	}

	if wallet.IsFrozen {
		return nil, fmt.Errorf("debit wallet %d: %w", wallet.ID, database.ErrWalletFrozen)
	}
	if wallet.AvailableBalance().LessThan(amount) {
		return nil, fmt.Errorf("debit %s from wallet %d with %s available: %w",
			amount, wallet.ID, wallet.AvailableBalance(), database.ErrInsufficientFunds)
	}

	return l.post(ctx, tx, wallet, p, amount.Neg(), wallet.ReservedBalance)
}

// DebitReserved settles funds previously set aside by Reserve: balance and
// reserved_balance drop by the same amount.
func (l *Ledger) DebitReserved(ctx context.Context, tx *sql.Tx, p Posting) (*models.WalletTransaction, error) {
	amount, err := validateAmount(p.Amount)
	if err != nil {
		return nil, err
	}

	wallet, err := store.LockWallet(ctx, tx, p.WalletID)
	if err != nil {
		return nil, err
	}

	if wallet.IsFrozen {
		return nil, fmt.Errorf("debit wallet %d: %w", wallet.ID, database.ErrWalletFrozen)
	}
	if wallet.ReservedBalance.LessThan(amount) || wallet.Balance.LessThan(amount) {
		return nil, fmt.Errorf("debit reserved %s from wallet %d with %s reserved: %w",
			amount, wallet.ID, wallet.ReservedBalance, database.ErrInsufficientFunds)
	}

	return l.post(ctx, tx, wallet, p, amount.Neg(), wallet.ReservedBalance.Sub(amount))
}

// Reserve sets aside amount of the available balance without posting a
// transaction.
func (l *Ledger) Reserve(ctx context.Context, tx *sql.Tx, walletID int64, amount decimal.Decimal) (*models.Wallet, error) {
	amount, err := validateAmount(amount)
	if err != nil {
		return nil, err
	}

	wallet, err := store.LockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}

	if wallet.IsFrozen {
		return nil, fmt.Errorf("reserve on wallet %d: %w", wallet.ID, database.ErrWalletFrozen)
	}
	if wallet.AvailableBalance().LessThan(amount) {
		return nil, fmt.Errorf("reserve %s on wallet %d with %s available: %w",
			amount, wallet.ID, wallet.AvailableBalance(), database.ErrInsufficientFunds)
	}

	wallet.ReservedBalance = wallet.ReservedBalance.Add(amount)
	if err := store.UpdateWalletBalances(ctx, tx, wallet.ID, wallet.Balance, wallet.ReservedBalance); err != nil {
		return nil, err
	}
	return wallet, nil
}

// Release returns reserved funds to the available balance.
func (l *Ledger) Release(ctx context.Context, tx *sql.Tx, walletID int64, amount decimal.Decimal) (*models.Wallet, error) {
	amount, err := validateAmount(amount)
	if err != nil {
		return nil, err
	}

	wallet, err := store.LockWallet(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}

	if wallet.ReservedBalance.LessThan(amount) {
		return nil, fmt.Errorf("release %s on wallet %d with %s reserved: %w",
			amount, wallet.ID, wallet.ReservedBalance, database.ErrInsufficientFunds)
	}

	wallet.ReservedBalance = wallet.ReservedBalance.Sub(amount)
	if err := store.UpdateWalletBalances(ctx, tx, wallet.ID, wallet.Balance, wallet.ReservedBalance); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (l *Ledger) post(ctx context.Context, tx *sql.Tx, wallet *models.Wallet, p Posting, delta, reserved decimal.Decimal) (*models.WalletTransaction, error) {
	after := wallet.Balance.Add(delta)
	if err := store.UpdateWalletBalances(ctx, tx, wallet.ID, after, reserved); err != nil {
		return nil, err
	}

	entry := &models.WalletTransaction{
		WalletID:        wallet.ID,
		WalletType:      wallet.WalletType,
		TransactionType: p.Type,
		Amount:          delta,
		BalanceBefore:   wallet.Balance,
		BalanceAfter:    after,
		RelatedType:     p.RelatedType,
		RelatedID:       p.RelatedID,
		Reason:          p.Reason,
		ActorID:         p.ActorID,
	}
	if err := store.InsertWalletTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	l.metrics.Posting(ctx, string(wallet.WalletType), string(p.Type))
	l.logger.Debug("ledger posting",
		zap.Int64("wallet_id", wallet.ID),
		zap.String("type", string(p.Type)),
		zap.String("amount", delta.StringFixed(2)),
		zap.String("balance_after", after.StringFixed(2)),
	)

	wallet.Balance = after
	wallet.ReservedBalance = reserved
	return entry, nil
}

// Adjust is an admin correction in its own transaction. A positive amount
// credits the wallet, a negative one debits it.
func (l *Ledger) Adjust(ctx context.Context, walletID int64, amount decimal.Decimal, reason string, actorID int64) (*models.WalletTransaction, error) {
	if reason == "" {
		return nil, database.Invalid("reason", "required for manual adjustments")
	}
	if amount.IsZero() {
		return nil, database.Invalid("amount", "must be non-zero")
	}

	ctx, observed := metrics.WithDeferred(ctx)
	var entry *models.WalletTransaction
	err := database.WithRetry(ctx, l.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		observed.Reset()
		p := Posting{
			WalletID:    walletID,
			Amount:      amount.Abs(),
			RelatedType: RelatedAdjustment,
			Reason:      reason,
			ActorID:     &actorID,
		}

		var err error
		if amount.IsPositive() {
			p.Type = models.TxAdjustmentCredit
			entry, err = l.Credit(ctx, tx, p)
		} else {
			p.Type = models.TxAdjustmentDebit
			entry, err = l.Debit(ctx, tx, p)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	observed.Flush()

	l.logger.Info("wallet adjusted",
		zap.Int64("wallet_id", walletID),
		zap.String("amount", amount.StringFixed(2)),
		zap.Int64("actor_id", actorID),
		zap.String("reason", reason),
	)
	return entry, nil
}

func (l *Ledger) Balance(ctx context.Context, walletID int64) (*models.Wallet, error) {
	return store.GetWallet(ctx, l.db, walletID)
}

func (l *Ledger) AdminWallet(ctx context.Context, db database.Querier) (*models.Wallet, error) {
	return store.GetWalletByOwner(ctx, db, models.WalletTypeAdmin, AdminOwnerID)
}

func (l *Ledger) MerchantWallet(ctx context.Context, db database.Querier, merchantID int64) (*models.Wallet, error) {
	return store.GetWalletByOwner(ctx, db, models.WalletTypeMerchant, merchantID)
}

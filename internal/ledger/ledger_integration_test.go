//go:build integration

package ledger_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/safar/marketplace-core/internal/testutil"
)

func post(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), fn)
}

func TestCreditAndDebit(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, wallet := testutil.Merchant(t, db, "50.00")

	err := post(ctx, db, func(tx *sql.Tx) error {
		entry, err := l.Credit(ctx, tx, ledger.Posting{
			WalletID: wallet.ID,
			Amount:   decimal.RequireFromString("25.005"),
			Type:     models.TxSaleCredit,
		})
		if err != nil {
			return err
		}
		assert.Equal(t, "50.00", entry.BalanceBefore.StringFixed(2))
		assert.Equal(t, "75.01", entry.BalanceAfter.StringFixed(2))
		return nil
	})
	require.NoError(t, err)

	err = post(ctx, db, func(tx *sql.Tx) error {
		_, err := l.Debit(ctx, tx, ledger.Posting{
			WalletID: wallet.ID,
			Amount:   decimal.NewFromInt(100),
			Type:     models.TxRefundDebit,
		})
		return err
	})
	assert.ErrorIs(t, err, database.ErrInsufficientFunds)

	err = post(ctx, db, func(tx *sql.Tx) error {
		_, err := l.Debit(ctx, tx, ledger.Posting{
			WalletID: wallet.ID,
			Amount:   decimal.RequireFromString("0.001"),
			Type:     models.TxRefundDebit,
		})
		return err
	})
	assert.ErrorIs(t, err, database.ErrValidation)

	err = post(ctx, db, func(tx *sql.Tx) error {
		_, err := l.Debit(ctx, tx, ledger.Posting{
			WalletID: wallet.ID,
			Amount:   decimal.RequireFromString("75.01"),
			Type:     models.TxRefundDebit,
		})
		return err
	})
	require.NoError(t, err)

	got, err := l.Balance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())

	report, err := l.Verify(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), report.Problems)
	assert.Equal(t, 2, report.Transactions)
}

func TestFrozenWalletAcceptsCreditsOnly(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, wallet := testutil.Merchant(t, db, "100.00")
	require.NoError(t, store.SetWalletFrozen(ctx, db, wallet.ID, true))

	err := post(ctx, db, func(tx *sql.Tx) error {
		_, err := l.Debit(ctx, tx, ledger.Posting{WalletID: wallet.ID, Amount: decimal.NewFromInt(1), Type: models.TxRefundDebit})
		return err
	})
	assert.ErrorIs(t, err, database.ErrWalletFrozen)

	err = post(ctx, db, func(tx *sql.Tx) error {
		_, err := l.Reserve(ctx, tx, wallet.ID, decimal.NewFromInt(1))
		return err
	})
	assert.ErrorIs(t, err, database.ErrWalletFrozen)

	err = post(ctx, db, func(tx *sql.Tx) error {
		_, err := l.Credit(ctx, tx, ledger.Posting{WalletID: wallet.ID, Amount: decimal.NewFromInt(5), Type: models.TxSaleCredit})
		return err
	})
	require.NoError(t, err)

	got, err := l.Balance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "105.00", got.Balance.StringFixed(2))
}

func TestAdjust(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, wallet := testutil.Merchant(t, db, "10.00")

	_, err := l.Adjust(ctx, wallet.ID, decimal.NewFromInt(5), "", 1)
	assert.ErrorIs(t, err, database.ErrValidation)
	_, err = l.Adjust(ctx, wallet.ID, decimal.Zero, "noop", 1)
	assert.ErrorIs(t, err, database.ErrValidation)

	entry, err := l.Adjust(ctx, wallet.ID, decimal.NewFromInt(15), "goodwill", 1)
	require.NoError(t, err)
	assert.Equal(t, models.TxAdjustmentCredit, entry.TransactionType)

	entry, err = l.Adjust(ctx, wallet.ID, decimal.NewFromInt(-20), "chargeback", 1)
	require.NoError(t, err)
	assert.Equal(t, models.TxAdjustmentDebit, entry.TransactionType)
	assert.Equal(t, "5.00", entry.BalanceAfter.StringFixed(2))

	_, err = l.Adjust(ctx, wallet.ID, decimal.NewFromInt(-6), "overdraw", 1)
	assert.ErrorIs(t, err, database.ErrInsufficientFunds)

	report, err := l.Verify(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), report.Problems)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, wallet := testutil.Merchant(t, db, "100.00")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		ok    int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := post(ctx, db, func(tx *sql.Tx) error {
				_, err := l.Debit(ctx, tx, ledger.Posting{WalletID: wallet.ID, Amount: decimal.NewFromInt(30), Type: models.TxRefundDebit})
				return err
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 3, ok)
	got, err := l.Balance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.Balance.StringFixed(2))

	report, err := l.Verify(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), report.Problems)
}

func TestLedgerRowsAreImmutable(t *testing.T) {
	db := testutil.NewDB(t)
	l := ledger.New(db, zap.NewNop(), nil)
	ctx := context.Background()

	_, wallet := testutil.Merchant(t, db, "10.00")

	var entry *models.WalletTransaction
	err := post(ctx, db, func(tx *sql.Tx) error {
		var err error
		entry, err = l.Credit(ctx, tx, ledger.Posting{WalletID: wallet.ID, Amount: decimal.NewFromInt(5), Type: models.TxSaleCredit})
		return err
	})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE wallet_transactions SET amount = 500 WHERE id = $1`, entry.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "rows are immutable")

	_, err = db.ExecContext(ctx, `DELETE FROM wallet_transactions WHERE id = $1`, entry.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "rows are immutable")

	txs, err := store.ListWalletTransactions(ctx, db, wallet.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "5.00", txs[0].Amount.StringFixed(2))

	report, err := l.Verify(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), report.Problems)
	assert.Equal(t, 1, report.Transactions)
}

func TestPostingMetricsWaitForCommit(t *testing.T) {
	db := testutil.NewDB(t)
	m := metrics.New(prometheus.NewRegistry())
	l := ledger.New(db, zap.NewNop(), m)

	_, wallet := testutil.Merchant(t, db, "10.00")
	credits := m.LedgerPostings.WithLabelValues(string(models.WalletTypeMerchant), string(models.TxSaleCredit))

	ctx, observed := metrics.WithDeferred(context.Background())
	err := post(ctx, db, func(tx *sql.Tx) error {
		observed.Reset()
		if _, err := l.Credit(ctx, tx, ledger.Posting{WalletID: wallet.ID, Amount: decimal.NewFromInt(5), Type: models.TxSaleCredit}); err != nil {
			return err
		}
		return database.ErrValidation
	})
	require.ErrorIs(t, err, database.ErrValidation)
	assert.Equal(t, 0.0, promtest.ToFloat64(credits), "rolled back posting is not counted")

	ctx, observed = metrics.WithDeferred(context.Background())
	err = post(ctx, db, func(tx *sql.Tx) error {
		observed.Reset()
		_, err := l.Credit(ctx, tx, ledger.Posting{WalletID: wallet.ID, Amount: decimal.NewFromInt(5), Type: models.TxSaleCredit})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, promtest.ToFloat64(credits))

	observed.Flush()
	assert.Equal(t, 1.0, promtest.ToFloat64(credits))

	_, err = l.Adjust(context.Background(), wallet.ID, decimal.NewFromInt(-1), "fee", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.LedgerPostings.WithLabelValues(string(models.WalletTypeMerchant), string(models.TxAdjustmentDebit))))
}

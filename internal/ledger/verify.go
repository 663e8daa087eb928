package ledger

import (
	"context"
	"fmt"

	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
)

// Report is the result of replaying a wallet's transaction trail.
type Report struct {
	WalletID       int64           `json:"wallet_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Balance        decimal.Decimal `json:"balance"`
	SumOfDeltas    decimal.Decimal `json:"sum_of_deltas"`
	Transactions   int             `json:"transactions"`
	Problems       []string        `json:"problems,omitempty"`
}

func (r *Report) Consistent() bool {
	return len(r.Problems) == 0
}

// Verify checks that the trail sums to balance - initial_balance and that
// every row starts where the previous one ended.
func (l *Ledger) Verify(ctx context.Context, walletID int64) (*Report, error) {
	wallet, err := store.GetWallet(ctx, l.db, walletID)
	if err != nil {
		return nil, err
	}

	txs, err := store.ListWalletTransactions(ctx, l.db, walletID)
	if err != nil {
		return nil, err
	}

	return replay(wallet, txs), nil
}

func replay(wallet *models.Wallet, txs []models.WalletTransaction) *Report {
	report := &Report{
		WalletID:       wallet.ID,
		InitialBalance: wallet.InitialBalance,
		Balance:        wallet.Balance,
		SumOfDeltas:    decimal.Zero,
		Transactions:   len(txs),
	}

	running := wallet.InitialBalance
	for _, t := range txs {
		if !t.BalanceBefore.Equal(running) {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"transaction %d starts at %s, expected %s", t.ID, t.BalanceBefore, running))
		}
		if !t.BalanceAfter.Sub(t.BalanceBefore).Equal(t.Amount) {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"transaction %d moves %s but records %s", t.ID, t.BalanceAfter.Sub(t.BalanceBefore), t.Amount))
		}
		report.SumOfDeltas = report.SumOfDeltas.Add(t.Amount)
		running = t.BalanceAfter
	}

	if expected := wallet.Balance.Sub(wallet.InitialBalance); !report.SumOfDeltas.Equal(expected) {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"deltas sum to %s, balance moved %s", report.SumOfDeltas, expected))
	}

	return report
}

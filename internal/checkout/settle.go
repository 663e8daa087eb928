package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
)

type merchantShare struct {
	MerchantID int64
	Sale       decimal.Decimal
	Commission decimal.Decimal
	Net        decimal.Decimal
}

// shares groups order lines per merchant, sorted by merchant id so wallets
// are always locked in the same order.
func (o *Orchestrator) shares(items []models.OrderItem) []merchantShare {
	sales := make(map[int64]decimal.Decimal)
	for _, item := range items {
		sales[item.MerchantID] = sales[item.MerchantID].Add(item.Subtotal)
	}

	out := make([]merchantShare, 0, len(sales))
	for merchantID, sale := range sales {
		commission, net := o.calc.Split(sale)
		out = append(out, merchantShare{
			MerchantID: merchantID,
			Sale:       sale,
			Commission: commission,
			Net:        net,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out
}

// settle credits each merchant its net and the platform its commission.
// Merchant wallets are locked first, the admin wallet last.
func (o *Orchestrator) settle(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	admin, err := o.ledger.AdminWallet(ctx, tx)
	if err != nil {
		return fmt.Errorf("admin wallet: %w", err)
	}

	orderID := order.ID
	shares := o.shares(order.Items)

	for _, share := range shares {
		wallet, err := o.ledger.MerchantWallet(ctx, tx, share.MerchantID)
		if err != nil {
			return fmt.Errorf("merchant %d wallet: %w", share.MerchantID, err)
		}

		if share.Net.IsPositive() {
			_, err = o.ledger.Credit(ctx, tx, ledger.Posting{
				WalletID:    wallet.ID,
				Amount:      share.Net,
				Type:        models.TxSaleCredit,
				RelatedType: ledger.RelatedOrder,
				RelatedID:   &orderID,
				Reason:      "sale " + order.OrderNumber,
			})
			if err != nil {
				return err
			}
		}

		err = o.record(ctx, tx, share.MerchantID, &orderID,
			record{"sale", models.FlowIncoming, share.Sale, "sale " + order.OrderNumber},
			record{"commission", models.FlowOutgoing, share.Commission, "platform commission " + order.OrderNumber},
		)
		if err != nil {
			return err
		}
	}

	for _, share := range shares {
		if !share.Commission.IsPositive() {
			continue
		}
		_, err = o.ledger.Credit(ctx, tx, ledger.Posting{
			WalletID:    admin.ID,
			Amount:      share.Commission,
			Type:        models.TxCommissionCredit,
			RelatedType: ledger.RelatedOrder,
			RelatedID:   &orderID,
			Reason:      fmt.Sprintf("commission %s merchant %d", order.OrderNumber, share.MerchantID),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// reverse undoes settle for a refund: the merchant gives back its net and
// the platform its commission.
func (o *Orchestrator) reverse(ctx context.Context, tx *sql.Tx, order *models.Order, actorID *int64) error {
	admin, err := o.ledger.AdminWallet(ctx, tx)
	if err != nil {
		return fmt.Errorf("admin wallet: %w", err)
	}

	orderID := order.ID
	shares := o.shares(order.Items)

	for _, share := range shares {
		wallet, err := o.ledger.MerchantWallet(ctx, tx, share.MerchantID)
		if err != nil {
			return fmt.Errorf("merchant %d wallet: %w", share.MerchantID, err)
		}

		if share.Net.IsPositive() {
			_, err = o.ledger.Debit(ctx, tx, ledger.Posting{
				WalletID:    wallet.ID,
				Amount:      share.Net,
				Type:        models.TxRefundDebit,
				RelatedType: ledger.RelatedOrder,
				RelatedID:   &orderID,
				Reason:      "refund " + order.OrderNumber,
				ActorID:     actorID,
			})
			if err != nil {
				return err
			}
		}

		err = o.record(ctx, tx, share.MerchantID, &orderID,
			record{"refund", models.FlowOutgoing, share.Sale, "refund " + order.OrderNumber},
			record{"commission_refund", models.FlowIncoming, share.Commission, "commission returned " + order.OrderNumber},
		)
		if err != nil {
			return err
		}
	}

	for _, share := range shares {
		if !share.Commission.IsPositive() {
			continue
		}
		_, err = o.ledger.Debit(ctx, tx, ledger.Posting{
			WalletID:    admin.ID,
			Amount:      share.Commission,
			Type:        models.TxCommissionRefund,
			RelatedType: ledger.RelatedOrder,
			RelatedID:   &orderID,
			Reason:      fmt.Sprintf("commission refund %s merchant %d", order.OrderNumber, share.MerchantID),
			ActorID:     actorID,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

type record struct {
	txType      string
	flow        models.TransactionFlow
	amount      decimal.Decimal
	description string
}

func (o *Orchestrator) record(ctx context.Context, tx *sql.Tx, merchantID int64, orderID *int64, records ...record) error {
	for _, r := range records {
		if r.amount.IsZero() {
			continue
		}
		err := store.InsertFinancialTransaction(ctx, tx, &models.FinancialTransaction{
			MerchantID:      merchantID,
			TransactionType: r.txType,
			TransactionFlow: r.flow,
			Amount:          r.amount,
			OrderID:         orderID,
			Description:     r.description,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

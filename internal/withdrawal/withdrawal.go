package withdrawal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/notify"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service runs the payout workflow. Requested funds are reserved on the
// merchant wallet until an admin approves (debit) or rejects (release).
type Service struct {
	db       *sql.DB
	ledger   *ledger.Ledger
	notifier notify.Dispatcher
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewService(db *sql.DB, l *ledger.Ledger, n notify.Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, ledger: l, notifier: n, logger: logger, metrics: m}
}

func refused(w *models.Withdrawal, to models.WithdrawalStatus) error {
	return &database.TransitionError{
		Entity: "withdrawal",
		ID:     w.ID,
		From:   string(w.Status),
		To:     string(to),
		Err:    database.ErrInvalidTransition,
	}
}

func validateRequest(amount decimal.Decimal, method string) (decimal.Decimal, string, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, "", database.Invalid("amount", "must be positive, got %s", amount)
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return decimal.Zero, "", database.Invalid("method", "required")
	}
	return amount, method, nil
}

// Request creates a pending withdrawal and reserves amount on the merchant
// wallet. Fails with ErrInsufficientFunds when amount exceeds the available
// balance, counting earlier pending requests.
func (s *Service) Request(ctx context.Context, merchantID int64, amount decimal.Decimal, method string) (*models.Withdrawal, error) {
	amount, method, err := validateRequest(amount, method)
	if err != nil {
		return nil, err
	}

	var w *models.Withdrawal
	err = database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		wallet, err := s.ledger.MerchantWallet(ctx, tx, merchantID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Reserve(ctx, tx, wallet.ID, amount); err != nil {
			return err
		}

		w = &models.Withdrawal{
			MerchantID: merchantID,
			WalletID:   wallet.ID,
			Amount:     amount,
			Method:     method,
		}
		return store.InsertWithdrawal(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Withdrawal(string(w.Status))
	s.logger.Info("withdrawal requested",
		zap.Int64("withdrawal_id", w.ID),
		zap.Int64("merchant_id", merchantID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return w, nil
}

// Approve debits the reserved funds. The status check and the debit share
// one transaction, so a second approval finds the row already approved and
// posts nothing.
func (s *Service) Approve(ctx context.Context, id, adminID int64) (*models.Withdrawal, error) {
	ctx, observed := metrics.WithDeferred(ctx)
	var w *models.Withdrawal
	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		observed.Reset()
		current, err := store.LockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.WithdrawalStatusApproved) {
			return refused(current, models.WithdrawalStatusApproved)
		}

		w, err = store.TransitionWithdrawal(ctx, tx, id, current.Status, models.WithdrawalStatusApproved, &adminID, "")
		if err != nil {
			return err
		}

		_, err = s.ledger.DebitReserved(ctx, tx, ledger.Posting{
			WalletID:    w.WalletID,
			Amount:      w.Amount,
			Type:        models.TxWithdrawalDebit,
			RelatedType: ledger.RelatedWithdrawal,
			RelatedID:   &w.ID,
			Reason:      fmt.Sprintf("withdrawal %d via %s", w.ID, w.Method),
			ActorID:     &adminID,
		})
		if err != nil {
			return err
		}

		return store.InsertFinancialTransaction(ctx, tx, &models.FinancialTransaction{
			MerchantID:      w.MerchantID,
			TransactionType: "withdrawal",
			TransactionFlow: models.FlowOutgoing,
			Amount:          w.Amount,
			WithdrawalID:    &w.ID,
			Description:     "withdrawal via " + w.Method,
		})
	})
	if err != nil {
		return nil, err
	}
	observed.Flush()

	s.decided(ctx, w, notify.EventWithdrawalApproved, adminID)
	return w, nil
}

// Reject closes a pending withdrawal and releases its reservation. No
// ledger row is written.
func (s *Service) Reject(ctx context.Context, id, adminID int64, reason string) (*models.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, database.Invalid("reason", "required when rejecting a withdrawal")
	}

	var w *models.Withdrawal
	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := store.LockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.WithdrawalStatusRejected) {
			return refused(current, models.WithdrawalStatusRejected)
		}

		w, err = store.TransitionWithdrawal(ctx, tx, id, current.Status, models.WithdrawalStatusRejected, &adminID, reason)
		if err != nil {
			return err
		}

		_, err = s.ledger.Release(ctx, tx, w.WalletID, w.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.decided(ctx, w, notify.EventWithdrawalRejected, adminID)
	return w, nil
}

// Complete marks an approved payout as settled externally.
func (s *Service) Complete(ctx context.Context, id int64) (*models.Withdrawal, error) {
	var w *models.Withdrawal
	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := store.LockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(models.WithdrawalStatusCompleted) {
			return refused(current, models.WithdrawalStatusCompleted)
		}

		w, err = store.TransitionWithdrawal(ctx, tx, id, current.Status, models.WithdrawalStatusCompleted, nil, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.decided(ctx, w, notify.EventWithdrawalComplete, 0)
	return w, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Withdrawal, error) {
	return store.GetWithdrawal(ctx, s.db, id)
}

func (s *Service) List(ctx context.Context, merchantID int64, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListWithdrawals(ctx, s.db, merchantID, page, pageSize)
}

func (s *Service) decided(ctx context.Context, w *models.Withdrawal, event string, adminID int64) {
	s.metrics.Withdrawal(string(w.Status))

	fields := []zap.Field{
		zap.Int64("withdrawal_id", w.ID),
		zap.Int64("merchant_id", w.MerchantID),
		zap.String("status", string(w.Status)),
		zap.String("amount", w.Amount.StringFixed(2)),
	}
	if adminID != 0 {
		fields = append(fields, zap.Int64("admin_id", adminID))
	}
	s.logger.Info("withdrawal "+string(w.Status), fields...)

	if s.notifier == nil {
		return
	}
	err := s.notifier.Dispatch(context.WithoutCancel(ctx), notificationFor(w, event))
	if err != nil {
		s.metrics.PostCommitFailure("notify")
		s.logger.Warn("withdrawal notification failed",
			zap.Int64("withdrawal_id", w.ID),
			zap.Error(err),
		)
	}
}

func notificationFor(w *models.Withdrawal, event string) notify.Event {
	payload := map[string]any{
		"withdrawal_id": w.ID,
		"amount":        w.Amount.StringFixed(2),
		"status":        string(w.Status),
	}
	if w.RejectionReason != "" {
		payload["reason"] = w.RejectionReason
	}
	return notify.Event{
		Type:          event,
		RecipientType: notify.RecipientMerchant,
		RecipientID:   w.MerchantID,
		Subject:       fmt.Sprintf("Withdrawal %d %s", w.ID, w.Status),
		Payload:       payload,
	}
}

package api

import (
	"net/http"
	"strings"

	"github.com/safar/marketplace-core/internal/commission"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/models"
	"github.com/safar/marketplace-core/internal/store"
	"github.com/shopspring/decimal"
)

func (s *Server) createMerchant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string          `json:"name"`
		Email          string          `json:"email"`
		CategoryID     *int64          `json:"category_id"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, r, database.Invalid("name", "required"))
		return
	}
	if req.OpeningBalance.IsNegative() {
		s.writeError(w, r, database.Invalid("opening_balance", "must not be negative"))
		return
	}

	merchant, wallet, err := store.CreateMerchant(r.Context(), s.db, req.Name, req.Email, req.CategoryID, req.OpeningBalance.Round(2))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"merchant": merchant, "wallet": wallet})
}

func (s *Server) getMerchant(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	merchant, err := store.GetMerchant(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, merchant)
}

func (s *Server) getMerchantWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	wallet, err := s.ledger.MerchantWallet(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, walletView(wallet))
}

func walletView(wallet *models.Wallet) map[string]any {
	return map[string]any{
		"wallet":            wallet,
		"available_balance": wallet.AvailableBalance(),
	}
}

func (s *Server) earnings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.calc.EarningsReport(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) financialTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txs, err := store.ListFinancialTransactions(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	incoming, outgoing, err := store.FlowTotals(r.Context(), s.db, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"items":          txs,
		"total_incoming": incoming,
		"total_outgoing": outgoing,
	})
}

func (s *Server) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.withdrawals.List(r.Context(), id, queryInt(r, "page", 1, 0), queryInt(r, "page_size", 20, 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "merchantID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Method string          `json:"method"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	wd, err := s.withdrawals.Request(r.Context(), id, req.Amount, req.Method)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wd)
}

func (s *Server) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "withdrawalID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	wd, err := s.withdrawals.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wd)
}

func (s *Server) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "withdrawalID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	admin, err := actorID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	wd, err := s.withdrawals.Approve(r.Context(), id, admin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wd)
}

func (s *Server) rejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "withdrawalID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	admin, err := actorID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	wd, err := s.withdrawals.Reject(r.Context(), id, admin, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wd)
}

func (s *Server) completeWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "withdrawalID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := actorID(r); err != nil {
		s.writeError(w, r, err)
		return
	}

	wd, err := s.withdrawals.Complete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wd)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "walletID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	wallet, err := s.ledger.Balance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, walletView(wallet))
}

func (s *Server) walletTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "walletID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		s.writeError(w, r, database.Invalid("cursor", "malformed"))
		return
	}

	page, err := store.ListWalletTransactionsCursor(r.Context(), s.db, id, cursor, queryInt(r, "limit", 50, 200))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) verifyWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "walletID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.ledger.Verify(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"consistent": report.Consistent(),
		"report":     report,
	})
}

func (s *Server) adjustWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "walletID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	admin, err := actorID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, err := s.ledger.Adjust(r.Context(), id, req.Amount, strings.TrimSpace(req.Reason), admin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) freezeWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "walletID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := actorID(r); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Frozen bool `json:"frozen"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := store.SetWalletFrozen(r.Context(), s.db, id, req.Frozen); err != nil {
		s.writeError(w, r, err)
		return
	}
	wallet, err := s.ledger.Balance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) commissionRates(w http.ResponseWriter, r *http.Request) {
	rates, err := commission.Rates(r.Context(), s.db)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"applied_rate": s.calc.Rate(),
		"categories":   rates,
	})
}

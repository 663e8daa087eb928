package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketplace"

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Checkouts          *prometheus.CounterVec
	LedgerPostings     *prometheus.CounterVec
	CouponTransitions  *prometheus.CounterVec
	CouponsExpired     prometheus.Counter
	Withdrawals        *prometheus.CounterVec
	PostCommitFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		LedgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Wallet transactions written, by wallet and transaction type.",
		}, []string{"wallet_type", "transaction_type"}),
		CouponTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_transitions_total",
			Help:      "Coupon status changes.",
		}, []string{"from", "to"}),
		CouponsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupons_expired_total",
			Help:      "Coupons expired by the sweeper.",
		}),
		Withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawal workflow transitions by resulting status.",
		}, []string{"status"}),
		PostCommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_commit_failures_total",
			Help:      "Failed best-effort hooks after checkout commit.",
		}, []string{"hook"}),
	}

	reg.MustRegister(
		m.Checkouts,
		m.LedgerPostings,
		m.CouponTransitions,
		m.CouponsExpired,
		m.Withdrawals,
		m.PostCommitFailures,
	)
	return m
}

func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

// Posting counts a wallet transaction. Inside a WithDeferred context it is
// counted only once the transaction commits.
func (m *Metrics) Posting(ctx context.Context, walletType, txType string) {
	if m == nil {
		return
	}
	observe(ctx, func() {
		m.LedgerPostings.WithLabelValues(walletType, txType).Inc()
	})
}

func (m *Metrics) CouponTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	observe(ctx, func() {
		m.CouponTransitions.WithLabelValues(from, to).Inc()
	})
}

func (m *Metrics) Expired(n int) {
	if m == nil {
		return
	}
	m.CouponsExpired.Add(float64(n))
}

func (m *Metrics) Withdrawal(status string) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(status).Inc()
}

func (m *Metrics) PostCommitFailure(hook string) {
	if m == nil {
		return
	}
	m.PostCommitFailures.WithLabelValues(hook).Inc()
}

package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/safar/marketplace-core/internal/checkout"
	"github.com/safar/marketplace-core/internal/commission"
	"github.com/safar/marketplace-core/internal/coupon"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/withdrawal"
	"go.uber.org/zap"
)

type Deps struct {
	DB          *sql.DB
	Coupons     *coupon.Service
	Checkout    *checkout.Orchestrator
	Withdrawals *withdrawal.Service
	Ledger      *ledger.Ledger
	Commission  *commission.Calculator
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// Server holds the collaborators the HTTP handlers call into. Handlers only
// decode input, call one operation and encode the result.
type Server struct {
	db          *sql.DB
	coupons     *coupon.Service
	checkout    *checkout.Orchestrator
	withdrawals *withdrawal.Service
	ledger      *ledger.Ledger
	calc        *commission.Calculator
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		db:          d.DB,
		coupons:     d.Coupons,
		checkout:    d.Checkout,
		withdrawals: d.Withdrawals,
		ledger:      d.Ledger,
		calc:        d.Commission,
		gatherer:    d.Gatherer,
		logger:      d.Logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, map[string]errorBody{
			"error": {Kind: database.KindNotFound, Message: "no route for " + r.Method + " " + r.URL.Path},
		})
	})

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.createUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", s.getUser)
			r.Get("/cart", s.getCart)
			r.Post("/cart", s.addToCart)
			r.Post("/checkout", s.checkoutCart)
			r.Get("/orders", s.listOrders)
		})
	})

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", s.getOrder)
		r.Post("/confirm-payment", s.confirmPayment)
		r.Post("/cancel", s.cancelOrder)
		r.Post("/refund", s.refundOrder)
	})

	r.Route("/offers", func(r chi.Router) {
		r.Post("/", s.createOffer)
		r.Route("/{offerID}", func(r chi.Router) {
			r.Get("/", s.getOffer)
			r.Put("/status", s.setOfferStatus)
			r.Delete("/", s.deleteOffer)
			r.Post("/coupons", s.issueCatalogCoupon)
		})
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/activate", s.activateCoupon)
		r.Get("/by-code/{code}", s.getCouponByCode)
		r.Route("/{couponID}", func(r chi.Router) {
			r.Get("/", s.getCoupon)
			r.Post("/publish", s.publishCoupon)
			r.Post("/use", s.useCoupon)
			r.Post("/cancel", s.cancelCoupon)
			r.Delete("/", s.deleteCoupon)
		})
	})

	r.Route("/merchants", func(r chi.Router) {
		r.Post("/", s.createMerchant)
		r.Route("/{merchantID}", func(r chi.Router) {
			r.Get("/", s.getMerchant)
			r.Get("/offers", s.listOffers)
			r.Get("/wallet", s.getMerchantWallet)
			r.Get("/earnings", s.earnings)
			r.Get("/financial-transactions", s.financialTransactions)
			r.Get("/withdrawals", s.listWithdrawals)
			r.Post("/withdrawals", s.requestWithdrawal)
		})
	})

	r.Route("/wallets/{walletID}", func(r chi.Router) {
		r.Get("/", s.getWallet)
		r.Get("/transactions", s.walletTransactions)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/commission-rates", s.commissionRates)
		r.Route("/withdrawals/{withdrawalID}", func(r chi.Router) {
			r.Get("/", s.getWithdrawal)
			r.Post("/approve", s.approveWithdrawal)
			r.Post("/reject", s.rejectWithdrawal)
			r.Post("/complete", s.completeWithdrawal)
		})
		r.Route("/wallets/{walletID}", func(r chi.Router) {
			r.Get("/verify", s.verifyWallet)
			r.Post("/adjust", s.adjustWallet)
			r.Post("/freeze", s.freezeWallet)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/safar/marketplace-core/internal/api"
	"github.com/safar/marketplace-core/internal/checkout"
	"github.com/safar/marketplace-core/internal/commission"
	"github.com/safar/marketplace-core/internal/config"
	"github.com/safar/marketplace-core/internal/coupon"
	"github.com/safar/marketplace-core/internal/database"
	"github.com/safar/marketplace-core/internal/invoice"
	"github.com/safar/marketplace-core/internal/ledger"
	"github.com/safar/marketplace-core/internal/loyalty"
	"github.com/safar/marketplace-core/internal/metrics"
	"github.com/safar/marketplace-core/internal/notify"
	"github.com/safar/marketplace-core/internal/payment"
	"github.com/safar/marketplace-core/internal/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lg, cfg); err != nil {
		lg.Fatal("Server exited", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, cfg *config.Config) error {
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	lg.Info("Connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "marketplace"),
	)
	m := metrics.New(reg)

	var notifier notify.Dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kd := notify.NewKafkaDispatcher(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, lg)
		defer func() {
			if err := kd.Close(); err != nil {
				lg.Warn("Close notification producer", zap.Error(err))
			}
		}()
		notifier = kd
		lg.Info("Publishing notifications to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.NotificationTopic),
		)
	} else {
		notifier = notify.NewLogDispatcher(lg)
		lg.Info("No Kafka brokers configured, notifications go to the log")
	}

	calc, err := commission.NewCalculator(cfg.Checkout.CommissionRate)
	if err != nil {
		return err
	}

	ldg := ledger.New(db, lg.Named("ledger"), m)
	coupons := coupon.NewService(db, lg.Named("coupon"), m)

	orchestrator := checkout.New(checkout.Deps{
		DB:                db,
		Coupons:           coupons,
		Ledger:            ldg,
		Commission:        calc,
		Gateway:           payment.NewHTTPGateway(cfg.Checkout.PaymentGatewayURL, cfg.Checkout.PaymentGatewayTimeout),
		Notifier:          notifier,
		Invoices:          invoice.NewGenerator(db),
		Loyalty:           loyalty.NewService(db, cfg.Checkout.LoyaltyPointsPerUnit),
		Logger:            lg.Named("checkout"),
		Metrics:           m,
		Currency:          cfg.Checkout.Currency,
		PostCommitTimeout: cfg.Checkout.PostCommitTimeout,
	})

	withdrawals := withdrawal.NewService(db, ldg, notifier, lg.Named("withdrawal"), m)

	srv := api.NewServer(api.Deps{
		DB:          db,
		Coupons:     coupons,
		Checkout:    orchestrator,
		Withdrawals: withdrawals,
		Ledger:      ldg,
		Commission:  calc,
		Gatherer:    reg,
		Logger:      lg.Named("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		coupons.Sweep(sweepCtx, cfg.Coupons.ExpirySweepInterval, cfg.Coupons.ExpirySweepBatch)
	}()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		stopSweep()
		<-sweepDone
		orchestrator.Wait()
	}()

	lg.Info("Server listening",
		zap.String("port", cfg.Server.Port),
		zap.String("commission_rate", calc.Rate().String()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stopSweep()
		return fmt.Errorf("listen: %w", err)
	}

	<-shutdownDone
	lg.Info("Server stopped")
	return nil
}

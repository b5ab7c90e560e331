package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wellmind-health/therapy-platform/internal/api/router"
	"github.com/wellmind-health/therapy-platform/internal/availability"
	"github.com/wellmind-health/therapy-platform/internal/booking"
	appconfig "github.com/wellmind-health/therapy-platform/internal/config"
	"github.com/wellmind-health/therapy-platform/internal/db"
	"github.com/wellmind-health/therapy-platform/internal/events"
	"github.com/wellmind-health/therapy-platform/internal/notify"
	"github.com/wellmind-health/therapy-platform/internal/observability/metrics"
	"github.com/wellmind-health/therapy-platform/internal/settlement"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting therapy-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := db.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Stores.
	walletRepo := wallet.NewRepository(pool)
	txnLog := wallet.NewTransactionLog(pool)
	bookingRepo := booking.NewRepository(pool)
	availabilityRepo := availability.NewRepository(pool)
	outboxStore := events.NewOutboxStore(pool)
	processedStore := settlement.NewProcessedStore(pool)
	discrepancyStore := settlement.NewDiscrepancyStore(pool)

	// Services.
	bookingService := booking.NewService(bookingRepo, outboxStore, bookingMetrics, logger.Named("booking"))
	availabilityService := availability.NewService(availabilityRepo, bookingRepo, cfg.AvailabilityWindowDays, logger.Named("availability"))

	gateway := settlement.NewHTTPGateway(
		cfg.GatewayBaseURL,
		cfg.GatewayAPIKey,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		bookingMetrics,
		logger.Named("gateway"),
	)
	slotHold := settlement.NewSlotHold(redisClient, cfg.CheckoutHoldTTL)
	orchestrator := settlement.NewOrchestrator(settlement.OrchestratorDeps{
		Wallets:               walletRepo,
		Transactions:          txnLog,
		Bookings:              bookingService,
		Slots:                 availabilityService,
		Gateway:               gateway,
		Holds:                 slotHold,
		Discrepancies:         discrepancyStore,
		Processed:             processedStore,
		Codec:                 settlement.NewReferenceCodec(cfg.GatewayWebhookSecret),
		Metrics:               bookingMetrics,
		Logger:                logger.Named("settlement"),
		CompensationAttempts:  cfg.CompensationMaxAttempts,
		CompensationBaseDelay: cfg.CompensationBaseDelay,
	})

	// Outbox dispatcher delivers booked/cancelled events to the notification
	// webhook in the background.
	notifier := notify.NewWebhookNotifier(cfg.NotifyWebhookURL, logger.Named("notify"))
	dispatcher := events.NewDispatcher(outboxStore, notifier, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger.Named("outbox"))
	go dispatcher.Run(ctx)

	r := router.New(&router.Config{
		Logger:              logger,
		AvailabilityHandler: availability.NewHandler(availabilityService, logger.Named("availability")),
		BookingHandler:      booking.NewHandler(bookingService, logger.Named("booking")),
		WalletHandler:       wallet.NewHandler(walletRepo, txnLog, logger.Named("wallet")),
		SettlementHandler:   settlement.NewHandler(orchestrator, cfg.GatewayWebhookSecret, logger.Named("settlement")),
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AuthJWTSecret:       cfg.AuthJWTSecret,
		HealthCheck: func(w http.ResponseWriter, req *http.Request) {
			if err := pool.Ping(req.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "github.com/wellmind-health/therapy-platform/internal/config"
	"github.com/wellmind-health/therapy-platform/internal/db"
	"github.com/wellmind-health/therapy-platform/internal/observability/metrics"
	"github.com/wellmind-health/therapy-platform/internal/settlement"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel).Named("reconcile-worker")
	logger.Info("starting reconcile worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	reconciler := settlement.NewReconciler(
		wallet.NewTransactionLog(pool),
		settlement.NewDiscrepancyStore(pool),
		cfg.PendingTransactionTTL,
		cfg.ReconcileScanInterval,
		metrics.NewBookingMetrics(nil),
		logger,
	)
	reconciler.Run(ctx)
}

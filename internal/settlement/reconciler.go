package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/observability/metrics"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

type pendingSweepSource interface {
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]wallet.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status wallet.TransactionStatus) (*wallet.Transaction, error)
}

// Reconciler sweeps transactions stuck in pending past their TTL. A stuck
// pending row means a settlement died between recording intent and finishing;
// the row is failed and a discrepancy opened so an operator can compare the
// ledger against the gateway.
type Reconciler struct {
	txns          pendingSweepSource
	discrepancies discrepancyRecorder
	pendingTTL    time.Duration
	interval      time.Duration
	batchSize     int
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
}

func NewReconciler(txns pendingSweepSource, discrepancies discrepancyRecorder, pendingTTL, interval time.Duration, m *metrics.BookingMetrics, logger *logging.Logger) *Reconciler {
	if txns == nil {
		panic("settlement: transaction log is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if pendingTTL <= 0 {
		pendingTTL = time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reconciler{
		txns:          txns,
		discrepancies: discrepancies,
		pendingTTL:    pendingTTL,
		interval:      interval,
		batchSize:     100,
		metrics:       m,
		logger:        logger,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "pending_ttl", r.pendingTTL, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if n, err := r.SweepOnce(ctx); err != nil {
				r.logger.Error("reconcile sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("reconcile sweep finished", "flagged", n)
			}
		}
	}
}

// SweepOnce fails every pending transaction older than the TTL and opens a
// discrepancy for each. Returns how many rows were flagged.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.pendingTTL)
	stale, err := r.txns.FindStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("settlement: find stale pending: %w", err)
	}

	flagged := 0
	for _, txn := range stale {
		if _, err := r.txns.UpdateStatus(ctx, txn.ID, wallet.StatusFailed); err != nil {
			// Finalized by a racing settlement between scan and update.
			if errors.Is(err, wallet.ErrTransactionFinalized) {
				continue
			}
			r.logger.Error("failed to fail stale transaction", "transaction_id", txn.ID, "error", err)
			continue
		}

		if r.discrepancies != nil {
			reason := fmt.Sprintf("transaction %s pending for more than %s", txn.ID, r.pendingTTL)
			if _, err := r.discrepancies.Record(ctx, txn.WalletID, txn.AmountCents, reason); err != nil {
				r.logger.Error("failed to record discrepancy for stale transaction", "transaction_id", txn.ID, "error", err)
			}
		}
		r.metrics.ObserveDiscrepancy()
		flagged++
	}
	return flagged, nil
}

package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

type pendingSource interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

// Dispatcher polls the outbox and hands entries to the delivery handler.
// Delivery is at-least-once; handlers must tolerate duplicates.
type Dispatcher struct {
	store     pendingSource
	handler   DeliveryHandler
	interval  time.Duration
	batchSize int32
	logger    *logging.Logger
}

// NewDispatcher constructs an outbox poller.
func NewDispatcher(store pendingSource, handler DeliveryHandler, interval time.Duration, batchSize int, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("events: outbox store required")
	}
	if handler == nil {
		panic("events: delivery handler required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:     store,
		handler:   handler,
		interval:  interval,
		batchSize: int32(batchSize),
		logger:    logger,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}

// DrainOnce delivers one batch of pending entries.
func (d *Dispatcher) DrainOnce(ctx context.Context) {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			// Leave the entry pending; the next tick retries it.
			d.logger.Error("event delivery failed", "event_id", entry.ID, "type", entry.Type, "error", err)
			continue
		}
		if _, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark event delivered", "event_id", entry.ID, "error", err)
		}
	}
}

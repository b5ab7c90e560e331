package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type processedQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records gateway webhook events that were already settled, so
// a redelivered confirmation cannot double-book or double-credit.
type ProcessedStore struct {
	pool processedQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("settlement: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithQuerier(q processedQuerier) *ProcessedStore {
	if q == nil {
		panic("settlement: querier required")
	}
	return &ProcessedStore{pool: q}
}

// MarkProcessed claims an event id, returning false if it was already seen.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("settlement: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// AlreadyProcessed reports whether the event id has been seen before.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("settlement: check processed: %w", err)
	}
	return true, nil
}

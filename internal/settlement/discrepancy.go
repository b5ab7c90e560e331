package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDiscrepancyNotFound is returned when resolving an unknown discrepancy.
var ErrDiscrepancyNotFound = errors.New("settlement: discrepancy not found")

// Discrepancy is a ledger entry that needs operator review: money moved but
// the automatic corrective step could not be completed.
type Discrepancy struct {
	ID          uuid.UUID
	WalletID    uuid.UUID
	AmountCents int64
	Reason      string
	Resolved    bool
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

type discrepancyQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DiscrepancyStore persists reconciliation work items.
type DiscrepancyStore struct {
	pool discrepancyQuerier
}

func NewDiscrepancyStore(pool *pgxpool.Pool) *DiscrepancyStore {
	if pool == nil {
		panic("settlement: pgx pool required")
	}
	return &DiscrepancyStore{pool: pool}
}

func newDiscrepancyStoreWithQuerier(q discrepancyQuerier) *DiscrepancyStore {
	if q == nil {
		panic("settlement: querier required")
	}
	return &DiscrepancyStore{pool: q}
}

// Record writes a new open discrepancy.
func (s *DiscrepancyStore) Record(ctx context.Context, walletID uuid.UUID, amountCents int64, reason string) (*Discrepancy, error) {
	query := `
		INSERT INTO ledger_discrepancies (id, wallet_id, amount_cents, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, wallet_id, amount_cents, reason, resolved, created_at, resolved_at
	`
	row := s.pool.QueryRow(ctx, query, uuid.New(), walletID, amountCents, reason)
	d, err := scanDiscrepancy(row)
	if err != nil {
		return nil, fmt.Errorf("settlement: record discrepancy: %w", err)
	}
	return d, nil
}

// ListOpen returns unresolved discrepancies, oldest first.
func (s *DiscrepancyStore) ListOpen(ctx context.Context, limit int32) ([]Discrepancy, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, wallet_id, amount_cents, reason, resolved, created_at, resolved_at
		FROM ledger_discrepancies
		WHERE resolved = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement: list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, fmt.Errorf("settlement: scan discrepancy: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Resolve marks a discrepancy handled by an operator.
func (s *DiscrepancyStore) Resolve(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE ledger_discrepancies
		SET resolved = TRUE, resolved_at = now()
		WHERE id = $1 AND resolved = FALSE
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("settlement: resolve discrepancy: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDiscrepancyNotFound
	}
	return nil
}

func scanDiscrepancy(row pgx.Row) (*Discrepancy, error) {
	var d Discrepancy
	err := row.Scan(&d.ID, &d.WalletID, &d.AmountCents, &d.Reason, &d.Resolved, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

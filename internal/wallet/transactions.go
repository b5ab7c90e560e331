package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionLog is the append-only audit trail of monetary movements. It
// never recomputes balances; the wallet row is the sole source of truth.
type TransactionLog struct {
	pool querier
}

// NewTransactionLog creates a transaction log backed by a pgx pool.
func NewTransactionLog(pool *pgxpool.Pool) *TransactionLog {
	if pool == nil {
		panic("wallet: pgx pool required")
	}
	return &TransactionLog{pool: pool}
}

func newTransactionLogWithQuerier(q querier) *TransactionLog {
	if q == nil {
		panic("wallet: querier required")
	}
	return &TransactionLog{pool: q}
}

const transactionColumns = `id, wallet_id, appointment_id, amount_cents, direction, status, created_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	var appointmentID *uuid.UUID
	err := row.Scan(&tx.ID, &tx.WalletID, &appointmentID, &tx.AmountCents, &tx.Direction, &tx.Status, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	tx.AppointmentID = appointmentID
	return &tx, nil
}

// Record appends a transaction for a wallet, optionally linked to an appointment.
func (l *TransactionLog) Record(ctx context.Context, walletID uuid.UUID, appointmentID *uuid.UUID, amountCents int64, direction Direction, status TransactionStatus) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	row := l.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, wallet_id, appointment_id, amount_cents, direction, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+transactionColumns+`
	`, uuid.New(), walletID, appointmentID, amountCents, direction, status)

	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("wallet: record transaction: %w", err)
	}
	return tx, nil
}

// UpdateStatus moves a pending transaction to completed or failed. Finalized
// rows are immutable; attempting to touch one returns ErrTransactionFinalized.
func (l *TransactionLog) UpdateStatus(ctx context.Context, id uuid.UUID, status TransactionStatus) (*Transaction, error) {
	if status != StatusCompleted && status != StatusFailed {
		return nil, fmt.Errorf("wallet: cannot transition transaction to %q", status)
	}
	row := l.pool.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+transactionColumns+`
	`, id, status)

	tx, err := scanTransaction(row)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, fmt.Errorf("wallet: update transaction status: %w", err)
	}

	var exists int
	lookupErr := l.pool.QueryRow(ctx, `SELECT 1 FROM transactions WHERE id = $1`, id).Scan(&exists)
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("wallet: transaction lookup: %w", lookupErr)
	}
	return nil, ErrTransactionFinalized
}

// ListByWallet returns transactions for a wallet, newest first.
func (l *TransactionLog) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := l.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("wallet: list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListByOwner joins through the wallet so callers can fetch history by owner pair.
func (l *TransactionLog) ListByOwner(ctx context.Context, ownerID uuid.UUID, ownerType OwnerType, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := l.pool.Query(ctx, `
		SELECT t.id, t.wallet_id, t.appointment_id, t.amount_cents, t.direction, t.status, t.created_at
		FROM transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.owner_id = $1 AND w.owner_type = $2
		ORDER BY t.created_at DESC
		LIMIT $3 OFFSET $4
	`, ownerID, ownerType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("wallet: list transactions by owner: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// FindStalePending returns pending transactions older than the cutoff. Used by
// the reconciliation worker to flag movements the gateway never confirmed.
func (l *TransactionLog) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: find stale pending: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var result []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

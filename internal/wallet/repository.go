package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists wallets. Balance mutations are single conditional
// statements so the check-then-act sequence cannot interleave with another
// writer on the same wallet.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("wallet: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("wallet: querier required")
	}
	return &Repository{pool: q}
}

const walletColumns = `id, owner_id, owner_type, balance_cents, created_at, updated_at`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.BalanceCents, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetOrCreate returns the wallet for the owner pair, creating an empty one on
// first access. The upsert makes concurrent first-time calls converge on a
// single row.
func (r *Repository) GetOrCreate(ctx context.Context, ownerID uuid.UUID, ownerType OwnerType) (*Wallet, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, owner_id, owner_type, balance_cents)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (owner_id, owner_type) DO UPDATE SET updated_at = now()
		RETURNING `+walletColumns+`
	`, uuid.New(), ownerID, ownerType)

	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("wallet: get or create: %w", err)
	}
	return w, nil
}

// GetByID fetches a wallet by its id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE id = $1
	`, id)
	return scanWallet(row)
}

// GetByOwner fetches a wallet by its owner pair without creating one.
func (r *Repository) GetByOwner(ctx context.Context, ownerID uuid.UUID, ownerType OwnerType) (*Wallet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE owner_id = $1 AND owner_type = $2
	`, ownerID, ownerType)
	return scanWallet(row)
}

// Credit adds amount to the wallet balance.
func (r *Repository) Credit(ctx context.Context, id uuid.UUID, amountCents int64) (*Wallet, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE wallets
		SET balance_cents = balance_cents + $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+walletColumns+`
	`, id, amountCents)
	return scanWallet(row)
}

// Debit subtracts amount from the wallet balance. The floor check and the
// decrement are one statement; a stale read can never let the balance go
// negative. Returns ErrInsufficientBalance with no mutation when the balance
// does not cover the amount.
func (r *Repository) Debit(ctx context.Context, id uuid.UUID, amountCents int64) (*Wallet, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE wallets
		SET balance_cents = balance_cents - $2,
		    updated_at = now()
		WHERE id = $1 AND balance_cents >= $2
		RETURNING `+walletColumns+`
	`, id, amountCents)

	w, err := scanWallet(row)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("wallet: debit: %w", err)
	}

	// No row matched: either the wallet is missing or the balance is short.
	var exists int
	lookupErr := r.pool.QueryRow(ctx, `SELECT 1 FROM wallets WHERE id = $1`, id).Scan(&exists)
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet: debit lookup: %w", lookupErr)
	}
	return nil, ErrInsufficientBalance
}

package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the wallet balance.
	// Expected, user-facing outcome; no mutation happens when it fires.
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	// ErrWalletNotFound is returned when the wallet id does not exist.
	ErrWalletNotFound = errors.New("wallet: not found")
	// ErrTransactionNotFound is returned when the transaction id does not exist.
	ErrTransactionNotFound = errors.New("wallet: transaction not found")
	// ErrTransactionFinalized is returned when updating a completed or failed transaction.
	ErrTransactionFinalized = errors.New("wallet: transaction already finalized")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
)

// OwnerType discriminates who holds a wallet.
type OwnerType string

const (
	OwnerClient    OwnerType = "client"
	OwnerTherapist OwnerType = "therapist"
	OwnerAdmin     OwnerType = "admin"
)

// Valid reports whether the owner type is one of the known variants.
func (t OwnerType) Valid() bool {
	switch t {
	case OwnerClient, OwnerTherapist, OwnerAdmin:
		return true
	}
	return false
}

// ParseOwnerType converts a raw string into an OwnerType.
func ParseOwnerType(s string) (OwnerType, error) {
	t := OwnerType(s)
	if !t.Valid() {
		return "", fmt.Errorf("wallet: unknown owner type %q", s)
	}
	return t, nil
}

// Wallet holds one balance per (owner, owner type) pair.
// Balances are integer minor currency units and never go negative.
type Wallet struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	OwnerType    OwnerType `json:"owner_type"`
	BalanceCents int64     `json:"balance_cents"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Direction marks a transaction as money in or money out of a wallet.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// TransactionStatus is the settlement state of a logged movement.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction is one append-only entry in the audit trail. Once completed or
// failed it is never mutated; corrections are new compensating transactions.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	WalletID      uuid.UUID         `json:"wallet_id"`
	AppointmentID *uuid.UUID        `json:"appointment_id,omitempty"`
	AmountCents   int64             `json:"amount_cents"`
	Direction     Direction         `json:"direction"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

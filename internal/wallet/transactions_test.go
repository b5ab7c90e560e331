package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func transactionRows(txs ...Transaction) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "wallet_id", "appointment_id", "amount_cents", "direction", "status", "created_at"})
	for _, tx := range txs {
		rows.AddRow(tx.ID, tx.WalletID, tx.AppointmentID, tx.AmountCents, tx.Direction, tx.Status, tx.CreatedAt)
	}
	return rows
}

func TestRecordLinksAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	walletID := uuid.New()
	appointmentID := uuid.New()
	want := Transaction{
		ID:            uuid.New(),
		WalletID:      walletID,
		AppointmentID: &appointmentID,
		AmountCents:   1000,
		Direction:     DirectionDebit,
		Status:        StatusCompleted,
		CreatedAt:     time.Now(),
	}

	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(pgxmock.AnyArg(), walletID, &appointmentID, int64(1000), DirectionDebit, StatusCompleted).
		WillReturnRows(transactionRows(want))

	got, err := log.Record(context.Background(), walletID, &appointmentID, 1000, DirectionDebit, StatusCompleted)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if got.AppointmentID == nil || *got.AppointmentID != appointmentID {
		t.Fatalf("expected appointment linkage, got %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordRejectsNonPositiveAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	if _, err := log.Record(context.Background(), uuid.New(), nil, 0, DirectionCredit, StatusPending); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestUpdateStatusFinalizesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	id := uuid.New()
	want := Transaction{ID: id, WalletID: uuid.New(), AmountCents: 1000, Direction: DirectionCredit, Status: StatusCompleted}

	mock.ExpectQuery("UPDATE transactions").
		WithArgs(id, StatusCompleted).
		WillReturnRows(transactionRows(want))

	got, err := log.UpdateStatus(context.Background(), id, StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}
}

func TestUpdateStatusRefusesFinalizedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	id := uuid.New()

	mock.ExpectQuery("UPDATE transactions").
		WithArgs(id, StatusFailed).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM transactions").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))

	_, err = log.UpdateStatus(context.Background(), id, StatusFailed)
	if !errors.Is(err, ErrTransactionFinalized) {
		t.Fatalf("expected ErrTransactionFinalized, got %v", err)
	}
}

func TestUpdateStatusRejectsPendingTarget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	if _, err := log.UpdateStatus(context.Background(), uuid.New(), StatusPending); err == nil {
		t.Fatal("expected transition back to pending to be rejected")
	}
}

func TestListByWalletPagination(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	walletID := uuid.New()
	txs := []Transaction{
		{ID: uuid.New(), WalletID: walletID, AmountCents: 1000, Direction: DirectionDebit, Status: StatusCompleted},
		{ID: uuid.New(), WalletID: walletID, AmountCents: 1000, Direction: DirectionCredit, Status: StatusCompleted},
	}

	// Out-of-range values clamp to defaults.
	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(walletID, 100, 0).
		WillReturnRows(transactionRows(txs...))

	got, err := log.ListByWallet(context.Background(), walletID, 500, -3)
	if err != nil {
		t.Fatalf("ListByWallet returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(got))
	}
}

func TestFindStalePending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newTransactionLogWithQuerier(mock)

	cutoff := time.Now().Add(-time.Hour)
	stale := Transaction{ID: uuid.New(), WalletID: uuid.New(), AmountCents: 1000, Direction: DirectionCredit, Status: StatusPending}

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(cutoff, 100).
		WillReturnRows(transactionRows(stale))

	got, err := log.FindStalePending(context.Background(), cutoff, 0)
	if err != nil {
		t.Fatalf("FindStalePending returned error: %v", err)
	}
	if len(got) != 1 || got[0].Status != StatusPending {
		t.Fatalf("expected one stale pending transaction, got %+v", got)
	}
}

package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestMarkProcessedClaimsOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithQuerier(mock)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("checkout", "evt_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	fresh, err := store.MarkProcessed(context.Background(), "checkout", "evt_1")
	if err != nil || !fresh {
		t.Fatalf("expected first claim to win, got fresh=%v err=%v", fresh, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("checkout", "evt_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	fresh, err = store.MarkProcessed(context.Background(), "checkout", "evt_1")
	if err != nil || fresh {
		t.Fatalf("expected duplicate claim to lose, got fresh=%v err=%v", fresh, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func discrepancyRows(d Discrepancy) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "wallet_id", "amount_cents", "reason", "resolved", "created_at", "resolved_at"}).
		AddRow(d.ID, d.WalletID, d.AmountCents, d.Reason, d.Resolved, d.CreatedAt, d.ResolvedAt)
}

func TestDiscrepancyRecordAndResolve(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newDiscrepancyStoreWithQuerier(mock)
	walletID := uuid.New()
	want := Discrepancy{
		ID:          uuid.New(),
		WalletID:    walletID,
		AmountCents: 5000,
		Reason:      "compensating credit failed after 3 attempts",
		CreatedAt:   time.Now(),
	}

	mock.ExpectQuery("INSERT INTO ledger_discrepancies").
		WithArgs(pgxmock.AnyArg(), walletID, int64(5000), want.Reason).
		WillReturnRows(discrepancyRows(want))

	got, err := store.Record(context.Background(), walletID, 5000, want.Reason)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if got.WalletID != walletID || got.Resolved {
		t.Fatalf("unexpected discrepancy: %+v", got)
	}

	mock.ExpectExec("UPDATE ledger_discrepancies").
		WithArgs(want.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Resolve(context.Background(), want.ID); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	mock.ExpectExec("UPDATE ledger_discrepancies").
		WithArgs(want.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.Resolve(context.Background(), want.ID); !errors.Is(err, ErrDiscrepancyNotFound) {
		t.Fatalf("expected ErrDiscrepancyNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDiscrepancyListOpen(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newDiscrepancyStoreWithQuerier(mock)
	d := Discrepancy{ID: uuid.New(), WalletID: uuid.New(), AmountCents: 100, Reason: "refund failed", CreatedAt: time.Now()}

	mock.ExpectQuery("SELECT id, wallet_id, amount_cents").
		WithArgs(int32(50)).
		WillReturnRows(discrepancyRows(d))

	open, err := store.ListOpen(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListOpen returned error: %v", err)
	}
	if len(open) != 1 || open[0].ID != d.ID {
		t.Fatalf("unexpected list: %+v", open)
	}
}

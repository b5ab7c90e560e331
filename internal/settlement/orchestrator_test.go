package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/availability"
	"github.com/wellmind-health/therapy-platform/internal/booking"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
)

type fakeWallets struct {
	wallet      *wallet.Wallet
	balance     int64
	debitErr    error
	creditErrs  []error
	debitCalls  int
	creditCalls int
}

func (f *fakeWallets) GetOrCreate(ctx context.Context, ownerID uuid.UUID, ownerType wallet.OwnerType) (*wallet.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeWallets) Debit(ctx context.Context, id uuid.UUID, amountCents int64) (*wallet.Wallet, error) {
	f.debitCalls++
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	f.balance -= amountCents
	return f.wallet, nil
}

func (f *fakeWallets) Credit(ctx context.Context, id uuid.UUID, amountCents int64) (*wallet.Wallet, error) {
	call := f.creditCalls
	f.creditCalls++
	if call < len(f.creditErrs) && f.creditErrs[call] != nil {
		return nil, f.creditErrs[call]
	}
	f.balance += amountCents
	return f.wallet, nil
}

type recordedTxn struct {
	walletID      uuid.UUID
	appointmentID *uuid.UUID
	amountCents   int64
	direction     wallet.Direction
	status        wallet.TransactionStatus
}

type fakeTxns struct {
	recorded  []recordedTxn
	finalized []uuid.UUID
	recordErr error
}

func (f *fakeTxns) Record(ctx context.Context, walletID uuid.UUID, appointmentID *uuid.UUID, amountCents int64, direction wallet.Direction, status wallet.TransactionStatus) (*wallet.Transaction, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	f.recorded = append(f.recorded, recordedTxn{walletID, appointmentID, amountCents, direction, status})
	return &wallet.Transaction{ID: uuid.New(), WalletID: walletID, AppointmentID: appointmentID, AmountCents: amountCents, Direction: direction, Status: status}, nil
}

func (f *fakeTxns) UpdateStatus(ctx context.Context, id uuid.UUID, status wallet.TransactionStatus) (*wallet.Transaction, error) {
	f.finalized = append(f.finalized, id)
	return &wallet.Transaction{ID: id, Status: status}, nil
}

type fakeBookings struct {
	reserveErr   error
	reserveCalls int
	lastParams   booking.ReserveParams
}

func (f *fakeBookings) Reserve(ctx context.Context, params booking.ReserveParams) (*booking.Appointment, error) {
	f.reserveCalls++
	f.lastParams = params
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	return &booking.Appointment{
		ID:              uuid.New(),
		TherapistID:     params.TherapistID,
		ClientID:        params.ClientID,
		AppointmentDate: params.AppointmentDate,
		StartTime:       params.StartTime,
		Mode:            params.Mode,
		Status:          booking.StatusScheduled,
		SessionFeeCents: params.SessionFeeCents,
	}, nil
}

type fakeSlots struct {
	slot *availability.SlotDefinition
	err  error
}

func (f *fakeSlots) SlotFor(ctx context.Context, therapistID uuid.UUID, date time.Time, startTime string, mode booking.Mode) (*availability.SlotDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.slot, nil
}

type fakeGateway struct {
	session     *CheckoutSession
	sessionErr  error
	refundErr   error
	refunds     []int64
	sessionRefs []string
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, amountCents int64, reference string) (*CheckoutSession, error) {
	f.sessionRefs = append(f.sessionRefs, reference)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeGateway) Refund(ctx context.Context, reference string, amountCents int64) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunds = append(f.refunds, amountCents)
	return nil
}

type fakeHolds struct {
	taken    bool
	released int
	acquired int
}

func (f *fakeHolds) Acquire(ctx context.Context, therapistID uuid.UUID, date, startTime string) (string, bool, error) {
	f.acquired++
	if f.taken {
		return "", false, nil
	}
	return "hold-token", true, nil
}

func (f *fakeHolds) Release(ctx context.Context, therapistID uuid.UUID, date, startTime, token string) error {
	f.released++
	return nil
}

type fakeDiscrepancies struct {
	recorded []string
}

func (f *fakeDiscrepancies) Record(ctx context.Context, walletID uuid.UUID, amountCents int64, reason string) (*Discrepancy, error) {
	f.recorded = append(f.recorded, reason)
	return &Discrepancy{ID: uuid.New(), WalletID: walletID, AmountCents: amountCents, Reason: reason}, nil
}

type fakeGuard struct {
	seen map[string]bool
}

func (f *fakeGuard) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := provider + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fixture struct {
	wallets       *fakeWallets
	txns          *fakeTxns
	bookings      *fakeBookings
	slots         *fakeSlots
	gateway       *fakeGateway
	holds         *fakeHolds
	discrepancies *fakeDiscrepancies
	guard         *fakeGuard
	codec         *ReferenceCodec
}

func newFixture() *fixture {
	return &fixture{
		wallets: &fakeWallets{
			wallet:  &wallet.Wallet{ID: uuid.New(), OwnerID: uuid.New(), OwnerType: wallet.OwnerClient},
			balance: 10000,
		},
		txns:     &fakeTxns{},
		bookings: &fakeBookings{},
		slots: &fakeSlots{slot: &availability.SlotDefinition{
			StartTime:  "10:00",
			Modes:      []booking.Mode{booking.ModeVideo, booking.ModeAudio},
			PriceCents: 5000,
		}},
		gateway:       &fakeGateway{session: &CheckoutSession{URL: "https://pay.example/s1", ProviderRef: "cs_1"}},
		holds:         &fakeHolds{},
		discrepancies: &fakeDiscrepancies{},
		guard:         &fakeGuard{},
		codec:         NewReferenceCodec("test-secret"),
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return NewOrchestrator(OrchestratorDeps{
		Wallets:               f.wallets,
		Transactions:          f.txns,
		Bookings:              f.bookings,
		Slots:                 f.slots,
		Gateway:               f.gateway,
		Holds:                 f.holds,
		Discrepancies:         f.discrepancies,
		Processed:             f.guard,
		Codec:                 f.codec,
		CompensationAttempts:  3,
		CompensationBaseDelay: time.Millisecond,
	})
}

func bookParams() BookParams {
	return BookParams{
		TherapistID: uuid.New(),
		ClientID:    uuid.New(),
		Date:        time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		StartTime:   "10:00",
		Mode:        booking.ModeVideo,
	}
}

func TestBookWithWalletHappyPath(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	appt, err := o.BookWithWallet(context.Background(), bookParams())
	if err != nil {
		t.Fatalf("BookWithWallet returned error: %v", err)
	}
	if appt == nil || appt.Status != booking.StatusScheduled {
		t.Fatalf("expected a scheduled appointment, got %+v", appt)
	}
	if f.wallets.balance != 5000 {
		t.Fatalf("expected balance 5000 after debit, got %d", f.wallets.balance)
	}
	if len(f.txns.recorded) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(f.txns.recorded))
	}
	txn := f.txns.recorded[0]
	if txn.direction != wallet.DirectionDebit || txn.status != wallet.StatusCompleted {
		t.Fatalf("expected a completed debit, got %+v", txn)
	}
	if txn.appointmentID == nil || *txn.appointmentID != appt.ID {
		t.Fatal("expected the debit linked to the appointment")
	}
	if f.bookings.lastParams.SessionFeeCents != 5000 {
		t.Fatalf("expected reservation priced from the template, got %d", f.bookings.lastParams.SessionFeeCents)
	}
}

func TestBookWithWalletInsufficientBalance(t *testing.T) {
	f := newFixture()
	f.wallets.debitErr = wallet.ErrInsufficientBalance
	o := f.orchestrator()

	_, err := o.BookWithWallet(context.Background(), bookParams())
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.bookings.reserveCalls != 0 {
		t.Fatal("expected no reservation attempt after a failed debit")
	}
	if len(f.txns.recorded) != 0 {
		t.Fatalf("expected no transactions, got %d", len(f.txns.recorded))
	}
}

func TestBookWithWalletConflictCompensates(t *testing.T) {
	f := newFixture()
	f.bookings.reserveErr = booking.ErrDoubleBooking
	o := f.orchestrator()

	_, err := o.BookWithWallet(context.Background(), bookParams())
	if !errors.Is(err, booking.ErrDoubleBooking) {
		t.Fatalf("expected ErrDoubleBooking, got %v", err)
	}
	if f.wallets.balance != 10000 {
		t.Fatalf("expected balance restored to 10000, got %d", f.wallets.balance)
	}
	if len(f.txns.recorded) != 2 {
		t.Fatalf("expected a debit and an offsetting credit, got %d transactions", len(f.txns.recorded))
	}
	if f.txns.recorded[0].direction != wallet.DirectionDebit || f.txns.recorded[1].direction != wallet.DirectionCredit {
		t.Fatalf("expected debit then credit, got %+v", f.txns.recorded)
	}
	if f.txns.recorded[0].amountCents != f.txns.recorded[1].amountCents {
		t.Fatal("expected the credit to offset the debit exactly")
	}
	if len(f.discrepancies.recorded) != 0 {
		t.Fatalf("expected no discrepancy on a clean unwind, got %v", f.discrepancies.recorded)
	}
}

func TestBookWithWalletCompensationExhausted(t *testing.T) {
	f := newFixture()
	f.bookings.reserveErr = booking.ErrDoubleBooking
	creditFailure := errors.New("wallet: connection reset")
	f.wallets.creditErrs = []error{creditFailure, creditFailure, creditFailure}
	o := f.orchestrator()

	_, err := o.BookWithWallet(context.Background(), bookParams())
	var reconErr *ReconciliationRequiredError
	if !errors.As(err, &reconErr) {
		t.Fatalf("expected ReconciliationRequiredError, got %v", err)
	}
	if reconErr.AmountCents != 5000 {
		t.Fatalf("expected the stranded amount on the error, got %d", reconErr.AmountCents)
	}
	if f.wallets.creditCalls != 3 {
		t.Fatalf("expected 3 credit attempts, got %d", f.wallets.creditCalls)
	}
	if len(f.discrepancies.recorded) != 1 {
		t.Fatalf("expected one recorded discrepancy, got %d", len(f.discrepancies.recorded))
	}
}

func TestBookWithWalletSlotNotOffered(t *testing.T) {
	f := newFixture()
	f.slots.err = availability.ErrSlotNotInTemplate
	o := f.orchestrator()

	_, err := o.BookWithWallet(context.Background(), bookParams())
	if !errors.Is(err, availability.ErrSlotNotInTemplate) {
		t.Fatalf("expected ErrSlotNotInTemplate, got %v", err)
	}
	if f.wallets.debitCalls != 0 {
		t.Fatal("expected no debit for an unpriceable slot")
	}
}

func TestCreateCheckoutReturnsSession(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	session, err := o.CreateCheckout(context.Background(), bookParams())
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if session.URL != "https://pay.example/s1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(f.gateway.sessionRefs) != 1 {
		t.Fatal("expected one gateway session call")
	}
	ref, err := f.codec.Decode(f.gateway.sessionRefs[0])
	if err != nil {
		t.Fatalf("expected a decodable reference, got %v", err)
	}
	if ref.AmountCents != 5000 || ref.StartTime != "10:00" {
		t.Fatalf("unexpected reference: %+v", ref)
	}
	if ref.Nonce != "hold-token" {
		t.Fatal("expected the hold token carried in the reference")
	}
}

func TestCreateCheckoutHoldConflict(t *testing.T) {
	f := newFixture()
	f.holds.taken = true
	o := f.orchestrator()

	_, err := o.CreateCheckout(context.Background(), bookParams())
	if !errors.Is(err, ErrSlotHeld) {
		t.Fatalf("expected ErrSlotHeld, got %v", err)
	}
	if len(f.gateway.sessionRefs) != 0 {
		t.Fatal("expected no gateway call when the slot is held")
	}
}

func TestCreateCheckoutGatewayFailureReleasesHold(t *testing.T) {
	f := newFixture()
	f.gateway.sessionErr = &GatewayError{Op: "create_session", Err: errors.New("timeout")}
	o := f.orchestrator()

	_, err := o.CreateCheckout(context.Background(), bookParams())
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if f.holds.released != 1 {
		t.Fatalf("expected the hold released, got %d releases", f.holds.released)
	}
}

func (f *fixture) encodedReference(t *testing.T, params BookParams) string {
	t.Helper()
	ref, err := f.codec.Encode(CheckoutReference{
		TherapistID: params.TherapistID,
		ClientID:    params.ClientID,
		Date:        params.Date.Format(time.DateOnly),
		StartTime:   params.StartTime,
		Mode:        params.Mode,
		AmountCents: 5000,
		Nonce:       "hold-token",
	})
	if err != nil {
		t.Fatalf("encode reference: %v", err)
	}
	return ref
}

func TestConfirmCheckoutSettles(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	params := bookParams()

	appt, err := o.ConfirmCheckout(context.Background(), "evt_1", f.encodedReference(t, params), true)
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}
	if appt == nil || appt.TherapistID != params.TherapistID {
		t.Fatalf("expected a settled appointment, got %+v", appt)
	}
	if f.wallets.balance != 15000 {
		t.Fatalf("expected therapist credited 5000, balance %d", f.wallets.balance)
	}
	if len(f.txns.recorded) != 1 || f.txns.recorded[0].status != wallet.StatusPending {
		t.Fatalf("expected one pending credit recorded, got %+v", f.txns.recorded)
	}
	if len(f.txns.finalized) != 1 {
		t.Fatal("expected the pending credit finalized")
	}
	if f.holds.released != 1 {
		t.Fatal("expected the slot hold released")
	}
}

func TestConfirmCheckoutDuplicateEventIgnored(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	params := bookParams()
	ref := f.encodedReference(t, params)

	if _, err := o.ConfirmCheckout(context.Background(), "evt_1", ref, true); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}
	appt, err := o.ConfirmCheckout(context.Background(), "evt_1", ref, true)
	if err != nil || appt != nil {
		t.Fatalf("expected duplicate ignored, got appt=%v err=%v", appt, err)
	}
	if f.bookings.reserveCalls != 1 {
		t.Fatalf("expected a single reservation, got %d", f.bookings.reserveCalls)
	}
}

func TestConfirmCheckoutDeclinedReleasesHold(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	appt, err := o.ConfirmCheckout(context.Background(), "evt_2", f.encodedReference(t, bookParams()), false)
	if err != nil || appt != nil {
		t.Fatalf("expected a quiet ack, got appt=%v err=%v", appt, err)
	}
	if f.holds.released != 1 {
		t.Fatal("expected the hold released on decline")
	}
	if f.bookings.reserveCalls != 0 || f.wallets.creditCalls != 0 {
		t.Fatal("expected no settlement work on decline")
	}
}

func TestConfirmCheckoutConflictRefunds(t *testing.T) {
	f := newFixture()
	f.bookings.reserveErr = booking.ErrDoubleBooking
	o := f.orchestrator()

	_, err := o.ConfirmCheckout(context.Background(), "evt_3", f.encodedReference(t, bookParams()), true)
	if !errors.Is(err, booking.ErrDoubleBooking) {
		t.Fatalf("expected ErrDoubleBooking, got %v", err)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0] != 5000 {
		t.Fatalf("expected a 5000 refund, got %v", f.gateway.refunds)
	}
	if len(f.txns.recorded) != 1 || f.txns.recorded[0].status != wallet.StatusFailed {
		t.Fatalf("expected a failed credit recorded, got %+v", f.txns.recorded)
	}
	if f.wallets.creditCalls != 0 {
		t.Fatal("expected no wallet credit for a refunded checkout")
	}
}

func TestConfirmCheckoutWithdrawnSlotRefunds(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	ref := f.encodedReference(t, bookParams())
	f.slots.err = availability.ErrSlotNotInTemplate

	_, err := o.ConfirmCheckout(context.Background(), "evt_6", ref, true)
	if !errors.Is(err, availability.ErrSlotNotInTemplate) {
		t.Fatalf("expected ErrSlotNotInTemplate, got %v", err)
	}
	if f.bookings.reserveCalls != 0 {
		t.Fatal("expected no reservation for a withdrawn slot")
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0] != 5000 {
		t.Fatalf("expected a 5000 refund, got %v", f.gateway.refunds)
	}
	if len(f.txns.recorded) != 1 || f.txns.recorded[0].status != wallet.StatusFailed {
		t.Fatalf("expected a failed credit recorded, got %+v", f.txns.recorded)
	}
	if f.holds.released != 1 {
		t.Fatal("expected the hold released after the refund")
	}
}

func TestConfirmCheckoutRefundFailureEscalates(t *testing.T) {
	f := newFixture()
	f.bookings.reserveErr = booking.ErrDoubleBooking
	f.gateway.refundErr = &GatewayError{Op: "refund", Err: errors.New("provider down")}
	o := f.orchestrator()

	_, err := o.ConfirmCheckout(context.Background(), "evt_4", f.encodedReference(t, bookParams()), true)
	var reconErr *ReconciliationRequiredError
	if !errors.As(err, &reconErr) {
		t.Fatalf("expected ReconciliationRequiredError, got %v", err)
	}
	if len(f.discrepancies.recorded) != 1 {
		t.Fatalf("expected one discrepancy, got %d", len(f.discrepancies.recorded))
	}
}

func TestConfirmCheckoutBadReference(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	_, err := o.ConfirmCheckout(context.Background(), "evt_5", "not-a-reference", true)
	if !errors.Is(err, ErrBadReference) {
		t.Fatalf("expected ErrBadReference, got %v", err)
	}
}

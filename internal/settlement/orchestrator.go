package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/availability"
	"github.com/wellmind-health/therapy-platform/internal/booking"
	"github.com/wellmind-health/therapy-platform/internal/observability/metrics"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// ErrSlotHeld is returned when another checkout session already holds the
// requested slot.
var ErrSlotHeld = errors.New("settlement: slot held by another checkout")

const (
	railWallet   = "wallet"
	railCheckout = "checkout"
)

type walletStore interface {
	GetOrCreate(ctx context.Context, ownerID uuid.UUID, ownerType wallet.OwnerType) (*wallet.Wallet, error)
	Credit(ctx context.Context, id uuid.UUID, amountCents int64) (*wallet.Wallet, error)
	Debit(ctx context.Context, id uuid.UUID, amountCents int64) (*wallet.Wallet, error)
}

type transactionLog interface {
	Record(ctx context.Context, walletID uuid.UUID, appointmentID *uuid.UUID, amountCents int64, direction wallet.Direction, status wallet.TransactionStatus) (*wallet.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status wallet.TransactionStatus) (*wallet.Transaction, error)
}

type bookingLedger interface {
	Reserve(ctx context.Context, params booking.ReserveParams) (*booking.Appointment, error)
}

type slotSource interface {
	SlotFor(ctx context.Context, therapistID uuid.UUID, date time.Time, startTime string, mode booking.Mode) (*availability.SlotDefinition, error)
}

type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, amountCents int64, reference string) (*CheckoutSession, error)
	Refund(ctx context.Context, reference string, amountCents int64) error
}

type slotHolder interface {
	Acquire(ctx context.Context, therapistID uuid.UUID, date, startTime string) (string, bool, error)
	Release(ctx context.Context, therapistID uuid.UUID, date, startTime, token string) error
}

type discrepancyRecorder interface {
	Record(ctx context.Context, walletID uuid.UUID, amountCents int64, reason string) (*Discrepancy, error)
}

type eventGuard interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// BookParams identifies the slot a client wants to settle on.
type BookParams struct {
	TherapistID uuid.UUID
	ClientID    uuid.UUID
	Date        time.Time
	StartTime   string
	Mode        booking.Mode
}

// Orchestrator drives the two settlement rails. Rail A debits the client's
// wallet then reserves; rail B sends the client through the hosted checkout
// and settles on the confirmation webhook. Either rail ends in exactly one of:
// a scheduled appointment, a clean unwind, or a recorded discrepancy.
type Orchestrator struct {
	wallets       walletStore
	txns          transactionLog
	bookings      bookingLedger
	slots         slotSource
	gateway       checkoutGateway
	holds         slotHolder
	discrepancies discrepancyRecorder
	processed     eventGuard
	codec         *ReferenceCodec
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger

	compensationAttempts  int
	compensationBaseDelay time.Duration
}

type OrchestratorDeps struct {
	Wallets       walletStore
	Transactions  transactionLog
	Bookings      bookingLedger
	Slots         slotSource
	Gateway       checkoutGateway
	Holds         slotHolder
	Discrepancies discrepancyRecorder
	Processed     eventGuard
	Codec         *ReferenceCodec
	Metrics       *metrics.BookingMetrics
	Logger        *logging.Logger

	CompensationAttempts  int
	CompensationBaseDelay time.Duration
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Wallets == nil || deps.Transactions == nil || deps.Bookings == nil || deps.Slots == nil {
		panic("settlement: wallets, transactions, bookings, and slots are required")
	}
	if deps.Codec == nil {
		panic("settlement: reference codec is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.CompensationAttempts <= 0 {
		deps.CompensationAttempts = 3
	}
	if deps.CompensationBaseDelay <= 0 {
		deps.CompensationBaseDelay = 100 * time.Millisecond
	}
	return &Orchestrator{
		wallets:               deps.Wallets,
		txns:                  deps.Transactions,
		bookings:              deps.Bookings,
		slots:                 deps.Slots,
		gateway:               deps.Gateway,
		holds:                 deps.Holds,
		discrepancies:         deps.Discrepancies,
		processed:             deps.Processed,
		codec:                 deps.Codec,
		metrics:               deps.Metrics,
		logger:                deps.Logger,
		compensationAttempts:  deps.CompensationAttempts,
		compensationBaseDelay: deps.CompensationBaseDelay,
	}
}

// BookWithWallet settles a booking on the wallet rail: price the slot, debit
// the client, reserve. A reservation conflict after the debit triggers a
// compensating credit; only if every credit attempt fails does the error
// escalate to ReconciliationRequiredError.
func (o *Orchestrator) BookWithWallet(ctx context.Context, params BookParams) (*booking.Appointment, error) {
	slot, err := o.slots.SlotFor(ctx, params.TherapistID, params.Date, params.StartTime, params.Mode)
	if err != nil {
		return nil, err
	}

	w, err := o.wallets.GetOrCreate(ctx, params.ClientID, wallet.OwnerClient)
	if err != nil {
		return nil, err
	}

	if _, err := o.wallets.Debit(ctx, w.ID, slot.PriceCents); err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			o.metrics.ObserveSettlement(railWallet, "insufficient_balance")
		}
		return nil, err
	}

	appt, err := o.bookings.Reserve(ctx, booking.ReserveParams{
		TherapistID:     params.TherapistID,
		ClientID:        params.ClientID,
		AppointmentDate: params.Date,
		StartTime:       params.StartTime,
		Mode:            params.Mode,
		SessionFeeCents: slot.PriceCents,
	})
	if err != nil {
		return nil, o.unwindDebit(ctx, w.ID, slot.PriceCents, err)
	}

	if _, err := o.txns.Record(ctx, w.ID, &appt.ID, slot.PriceCents, wallet.DirectionDebit, wallet.StatusCompleted); err != nil {
		// The money moved and the slot is booked; a missing ledger row is an
		// operator problem, not a reason to strand the client.
		o.logger.Error("failed to record debit transaction", "wallet_id", w.ID, "appointment_id", appt.ID, "error", err)
		o.noteDiscrepancy(ctx, w.ID, slot.PriceCents, "wallet debit settled but transaction row missing")
	}

	o.metrics.ObserveSettlement(railWallet, "settled")
	return appt, nil
}

// unwindDebit records the spent debit and credits the money back. The
// original reservation error is returned once the wallet is whole again.
func (o *Orchestrator) unwindDebit(ctx context.Context, walletID uuid.UUID, amountCents int64, cause error) error {
	if errors.Is(cause, booking.ErrDoubleBooking) {
		o.metrics.ObserveSettlement(railWallet, "conflict")
	} else {
		o.metrics.ObserveSettlement(railWallet, "error")
	}

	if _, err := o.txns.Record(ctx, walletID, nil, amountCents, wallet.DirectionDebit, wallet.StatusCompleted); err != nil {
		o.logger.Error("failed to record unwound debit", "wallet_id", walletID, "error", err)
	}

	if err := o.compensate(ctx, walletID, amountCents); err != nil {
		o.metrics.ObserveCompensation("exhausted")
		o.metrics.ObserveDiscrepancy()
		o.noteDiscrepancy(ctx, walletID, amountCents, fmt.Sprintf("compensating credit failed after %d attempts: %v", o.compensationAttempts, err))
		return &ReconciliationRequiredError{WalletID: walletID, AmountCents: amountCents, Cause: cause}
	}

	if _, err := o.txns.Record(ctx, walletID, nil, amountCents, wallet.DirectionCredit, wallet.StatusCompleted); err != nil {
		o.logger.Error("failed to record compensating credit", "wallet_id", walletID, "error", err)
	}
	o.metrics.ObserveCompensation("compensated")
	return cause
}

func (o *Orchestrator) compensate(ctx context.Context, walletID uuid.UUID, amountCents int64) error {
	var lastErr error
	delay := o.compensationBaseDelay
	for attempt := 1; attempt <= o.compensationAttempts; attempt++ {
		if _, err := o.wallets.Credit(ctx, walletID, amountCents); err == nil {
			return nil
		} else {
			lastErr = err
			o.logger.Warn("compensating credit failed", "wallet_id", walletID, "attempt", attempt, "error", err)
		}
		if attempt == o.compensationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// CreateCheckout opens the gateway rail: price the slot, take a soft hold,
// and hand back a hosted checkout session. The hold token travels inside the
// signed reference so the confirmation webhook can release it.
func (o *Orchestrator) CreateCheckout(ctx context.Context, params BookParams) (*CheckoutSession, error) {
	slot, err := o.slots.SlotFor(ctx, params.TherapistID, params.Date, params.StartTime, params.Mode)
	if err != nil {
		return nil, err
	}

	date := params.Date.Format(time.DateOnly)
	token, ok, err := o.holds.Acquire(ctx, params.TherapistID, date, params.StartTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		o.metrics.ObserveSettlement(railCheckout, "hold_conflict")
		return nil, ErrSlotHeld
	}

	ref, err := o.codec.Encode(CheckoutReference{
		TherapistID: params.TherapistID,
		ClientID:    params.ClientID,
		Date:        date,
		StartTime:   params.StartTime,
		Mode:        params.Mode,
		AmountCents: slot.PriceCents,
		Nonce:       token,
	})
	if err != nil {
		o.releaseHold(ctx, params.TherapistID, date, params.StartTime, token)
		return nil, err
	}

	session, err := o.gateway.CreateCheckoutSession(ctx, slot.PriceCents, ref)
	if err != nil {
		o.releaseHold(ctx, params.TherapistID, date, params.StartTime, token)
		o.metrics.ObserveSettlement(railCheckout, "gateway_error")
		return nil, err
	}

	o.metrics.ObserveSettlement(railCheckout, "session_created")
	return session, nil
}

// ConfirmCheckout settles a gateway confirmation. Redelivered events are
// no-ops. On a successful payment the slot is reserved and the therapist
// credited; if the slot was lost in the meantime the payment is refunded.
// A nil appointment with nil error means there is nothing left to do.
func (o *Orchestrator) ConfirmCheckout(ctx context.Context, eventID, reference string, succeeded bool) (*booking.Appointment, error) {
	if o.processed != nil && eventID != "" {
		fresh, err := o.processed.MarkProcessed(ctx, "checkout", eventID)
		if err != nil {
			return nil, err
		}
		if !fresh {
			o.logger.Info("duplicate checkout event ignored", "event_id", eventID)
			return nil, nil
		}
	}

	ref, err := o.codec.Decode(reference)
	if err != nil {
		return nil, err
	}
	date, err := ref.AppointmentDate()
	if err != nil {
		return nil, ErrBadReference
	}

	if !succeeded {
		o.releaseHold(ctx, ref.TherapistID, ref.Date, ref.StartTime, ref.Nonce)
		o.metrics.ObserveSettlement(railCheckout, "declined")
		return nil, nil
	}

	therapistWallet, err := o.wallets.GetOrCreate(ctx, ref.TherapistID, wallet.OwnerTherapist)
	if err != nil {
		return nil, err
	}

	// The template may have changed while the client sat at the gateway. A
	// slot the therapist withdrew is refunded here; a concurrent booking is
	// caught by Reserve below.
	if _, err := o.slots.SlotFor(ctx, ref.TherapistID, date, ref.StartTime, ref.Mode); err != nil {
		if errors.Is(err, availability.ErrSlotNotInTemplate) || errors.Is(err, availability.ErrTemplateNotFound) {
			return nil, o.refundCheckout(ctx, therapistWallet.ID, reference, ref, err)
		}
		return nil, err
	}

	appt, err := o.bookings.Reserve(ctx, booking.ReserveParams{
		TherapistID:     ref.TherapistID,
		ClientID:        ref.ClientID,
		AppointmentDate: date,
		StartTime:       ref.StartTime,
		Mode:            ref.Mode,
		SessionFeeCents: ref.AmountCents,
	})
	if err != nil {
		return nil, o.refundCheckout(ctx, therapistWallet.ID, reference, ref, err)
	}

	txn, err := o.txns.Record(ctx, therapistWallet.ID, &appt.ID, ref.AmountCents, wallet.DirectionCredit, wallet.StatusPending)
	if err != nil {
		o.noteDiscrepancy(ctx, therapistWallet.ID, ref.AmountCents, "checkout settled but pending credit row missing")
		o.metrics.ObserveDiscrepancy()
		return appt, &ReconciliationRequiredError{WalletID: therapistWallet.ID, AmountCents: ref.AmountCents, Cause: err}
	}

	if _, err := o.wallets.Credit(ctx, therapistWallet.ID, ref.AmountCents); err != nil {
		o.noteDiscrepancy(ctx, therapistWallet.ID, ref.AmountCents, fmt.Sprintf("checkout settled but therapist credit failed: %v", err))
		o.metrics.ObserveDiscrepancy()
		return appt, &ReconciliationRequiredError{WalletID: therapistWallet.ID, AmountCents: ref.AmountCents, Cause: err}
	}

	if _, err := o.txns.UpdateStatus(ctx, txn.ID, wallet.StatusCompleted); err != nil {
		o.logger.Error("failed to finalize credit transaction", "transaction_id", txn.ID, "error", err)
	}

	o.releaseHold(ctx, ref.TherapistID, ref.Date, ref.StartTime, ref.Nonce)
	o.metrics.ObserveSettlement(railCheckout, "settled")
	return appt, nil
}

// refundCheckout returns the payment when a paid-for slot cannot be
// fulfilled. A refund that fails escalates to reconciliation.
func (o *Orchestrator) refundCheckout(ctx context.Context, therapistWalletID uuid.UUID, reference string, ref *CheckoutReference, cause error) error {
	if errors.Is(cause, booking.ErrDoubleBooking) {
		o.metrics.ObserveSettlement(railCheckout, "conflict")
	} else {
		o.metrics.ObserveSettlement(railCheckout, "error")
	}

	if _, err := o.txns.Record(ctx, therapistWalletID, nil, ref.AmountCents, wallet.DirectionCredit, wallet.StatusFailed); err != nil {
		o.logger.Error("failed to record failed credit", "wallet_id", therapistWalletID, "error", err)
	}

	if err := o.gateway.Refund(ctx, reference, ref.AmountCents); err != nil {
		o.metrics.ObserveDiscrepancy()
		o.noteDiscrepancy(ctx, therapistWalletID, ref.AmountCents, fmt.Sprintf("refund failed after lost slot: %v", err))
		return &ReconciliationRequiredError{WalletID: therapistWalletID, AmountCents: ref.AmountCents, Cause: err}
	}

	o.releaseHold(ctx, ref.TherapistID, ref.Date, ref.StartTime, ref.Nonce)
	o.metrics.ObserveSettlement(railCheckout, "refunded")
	return cause
}

func (o *Orchestrator) releaseHold(ctx context.Context, therapistID uuid.UUID, date, startTime, token string) {
	if o.holds == nil || token == "" {
		return
	}
	if err := o.holds.Release(ctx, therapistID, date, startTime, token); err != nil {
		o.logger.Warn("failed to release slot hold", "therapist_id", therapistID, "date", date, "start_time", startTime, "error", err)
	}
}

func (o *Orchestrator) noteDiscrepancy(ctx context.Context, walletID uuid.UUID, amountCents int64, reason string) {
	if o.discrepancies == nil {
		return
	}
	if _, err := o.discrepancies.Record(ctx, walletID, amountCents, reason); err != nil {
		o.logger.Error("failed to record ledger discrepancy", "wallet_id", walletID, "amount_cents", amountCents, "reason", reason, "error", err)
	}
}

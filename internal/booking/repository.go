package booking

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

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists appointments. The no-double-booking invariant lives in
// the database as a partial unique index over (therapist_id, appointment_date,
// start_time) filtered to non-cancelled rows, so concurrent reserves are
// arbitrated by the storage layer, not by find-then-create.
type Repository struct {
	pool querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &Repository{pool: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	if q == nil {
		panic("booking: querier required")
	}
	return &Repository{pool: q}
}

const appointmentColumns = `id, therapist_id, client_id, appointment_date, start_time, mode, status, cancel_reason, notes, session_fee_cents, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.TherapistID,
		&a.ClientID,
		&a.AppointmentDate,
		&a.StartTime,
		&a.Mode,
		&a.Status,
		&a.CancelReason,
		&a.Notes,
		&a.SessionFeeCents,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Reserve inserts a scheduled appointment. Two concurrent calls for the same
// slot key produce exactly one row and one ErrDoubleBooking.
func (r *Repository) Reserve(ctx context.Context, params ReserveParams) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, therapist_id, client_id, appointment_date, start_time, mode, status, session_fee_cents)
		VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7)
		RETURNING `+appointmentColumns+`
	`, uuid.New(), params.TherapistID, params.ClientID, params.AppointmentDate, params.StartTime, params.Mode, params.SessionFeeCents)

	a, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDoubleBooking
		}
		return nil, fmt.Errorf("booking: reserve: %w", err)
	}
	return a, nil
}

// GetByID fetches an appointment by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// UpdateStatus transitions a scheduled appointment. The WHERE clause pins the
// source state so a concurrent transition cannot be lost; zero rows means the
// appointment is gone or already terminal.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, cancelReason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING `+appointmentColumns+`
	`, id, status, cancelReason)

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("booking: update status: %w", err)
	}

	var exists int
	lookupErr := r.pool.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id = $1`, id).Scan(&exists)
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("booking: appointment lookup: %w", lookupErr)
	}
	return nil, ErrInvalidTransition
}

// SetNotes updates the therapist's session notes on an appointment.
func (r *Repository) SetNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, notes)
	return scanAppointment(row)
}

// BookedStartTimes returns the start times consumed by active appointments on
// a date. The availability expander subtracts these from the weekly template.
func (r *Repository) BookedStartTimes(ctx context.Context, therapistID uuid.UUID, date time.Time) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time
		FROM appointments
		WHERE therapist_id = $1
		  AND appointment_date = $2
		  AND status <> 'cancelled'
	`, therapistID, date)
	if err != nil {
		return nil, fmt.Errorf("booking: booked start times: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var startTime string
		if err := rows.Scan(&startTime); err != nil {
			return nil, fmt.Errorf("booking: scan start time: %w", err)
		}
		taken[startTime] = true
	}
	return taken, rows.Err()
}

// ListUpcoming returns scheduled appointments on or after the given day for
// one side of the relationship.
func (r *Repository) ListUpcoming(ctx context.Context, party Party, ownerID uuid.UUID, from time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+partyColumn(party)+` = $1
		  AND appointment_date >= $2
		  AND status = 'scheduled'
		ORDER BY appointment_date, start_time
	`, ownerID, from)
	if err != nil {
		return nil, fmt.Errorf("booking: list upcoming: %w", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

// ListPast returns appointments before the given day or already terminal.
func (r *Repository) ListPast(ctx context.Context, party Party, ownerID uuid.UUID, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+partyColumn(party)+` = $1
		  AND (appointment_date < $2 OR status <> 'scheduled')
		ORDER BY appointment_date DESC, start_time DESC
	`, ownerID, before)
	if err != nil {
		return nil, fmt.Errorf("booking: list past: %w", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func partyColumn(p Party) string {
	if p == PartyClient {
		return "client_id"
	}
	return "therapist_id"
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

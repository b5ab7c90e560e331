package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDoubleBooking is returned when a slot already carries a non-cancelled
	// appointment. Expected, user-facing outcome of losing a race.
	ErrDoubleBooking = errors.New("booking: slot already booked")
	// ErrAppointmentNotFound is returned when the appointment id does not exist.
	ErrAppointmentNotFound = errors.New("booking: appointment not found")
	// ErrInvalidTransition is returned for illegal status changes. Completed and
	// cancelled are terminal.
	ErrInvalidTransition = errors.New("booking: invalid status transition")
)

// Mode is the consultation channel for a session.
type Mode string

const (
	ModeVideo Mode = "video"
	ModeAudio Mode = "audio"
)

// Valid reports whether the mode is a known consultation channel.
func (m Mode) Valid() bool {
	return m == ModeVideo || m == ModeAudio
}

// ParseMode converts a raw string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("booking: unknown consultation mode %q", s)
	}
	return m, nil
}

// Status is the lifecycle state of an appointment.
// scheduled -> completed and scheduled -> cancelled are the only edges.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Party distinguishes the two owners of an appointment for list queries.
type Party string

const (
	PartyTherapist Party = "therapist"
	PartyClient    Party = "client"
)

// Appointment reifies a slot once a client books it. Rows are never hard
// deleted; cancellation is a status transition.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	TherapistID     uuid.UUID `json:"therapist_id"`
	ClientID        uuid.UUID `json:"client_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	StartTime       string    `json:"start_time"` // HH:MM, matches the template slot
	Mode            Mode      `json:"mode"`
	Status          Status    `json:"status"`
	CancelReason    *string   `json:"cancel_reason,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
	SessionFeeCents int64     `json:"session_fee_cents"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ReserveParams carries everything needed to create a scheduled appointment.
type ReserveParams struct {
	TherapistID     uuid.UUID
	ClientID        uuid.UUID
	AppointmentDate time.Time
	StartTime       string
	Mode            Mode
	SessionFeeCents int64
}

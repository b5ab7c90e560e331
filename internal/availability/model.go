package availability

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/booking"
)

var (
	// ErrTemplateNotFound is returned when a therapist has no weekly template.
	// Read paths treat this as "no availability", not a failure.
	ErrTemplateNotFound = errors.New("availability: weekly template not found")
	// ErrSlotNotInTemplate is returned when a requested slot key does not match
	// any template entry for that day.
	ErrSlotNotInTemplate = errors.New("availability: slot not in weekly template")
	// ErrInvalidTemplate wraps template validation failures.
	ErrInvalidTemplate = errors.New("availability: invalid weekly template")
)

// SlotDefinition is one recurring entry in a therapist's weekly template.
type SlotDefinition struct {
	StartTime  string         `json:"start_time"` // HH:MM
	Modes      []booking.Mode `json:"modes"`
	PriceCents int64          `json:"price_cents"`
}

// SupportsMode reports whether the slot offers the given consultation mode.
func (s SlotDefinition) SupportsMode(mode booking.Mode) bool {
	for _, m := range s.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// WeeklyTemplate is a therapist's recurring availability, one slot list per
// weekday. Replaced wholesale; no history is kept.
type WeeklyTemplate struct {
	TherapistID uuid.UUID                         `json:"therapist_id"`
	Days        map[time.Weekday][]SlotDefinition `json:"days"`
}

// Slot is a bookable candidate: a template entry projected onto a calendar
// date with already-consumed start times removed. Derived, never stored.
type Slot struct {
	StartTime  string         `json:"start_time"`
	Modes      []booking.Mode `json:"modes"`
	PriceCents int64          `json:"price_cents"`
}

// DayAvailability is one date inside the rolling availability window.
type DayAvailability struct {
	Date  time.Time `json:"date"`
	Slots []Slot    `json:"slots"`
}

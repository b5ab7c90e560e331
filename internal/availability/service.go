package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/booking"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

type templateStore interface {
	ReplaceTemplate(ctx context.Context, therapistID uuid.UUID, days map[time.Weekday][]SlotDefinition) error
	GetTemplate(ctx context.Context, therapistID uuid.UUID) (*WeeklyTemplate, error)
	DaySlots(ctx context.Context, therapistID uuid.UUID, weekday time.Weekday) ([]SlotDefinition, error)
}

type bookedLookup interface {
	BookedStartTimes(ctx context.Context, therapistID uuid.UUID, date time.Time) (map[string]bool, error)
}

// Service projects weekly templates onto calendar dates. Pure read path apart
// from template replacement; its answers are only as fresh as the booking
// ledger reads underneath it, which is why settlement re-validates.
type Service struct {
	templates  templateStore
	booked     bookedLookup
	windowDays int
	logger     *logging.Logger
}

// NewService constructs the availability expander. windowDays bounds the
// rolling "next available dates" scan.
func NewService(templates templateStore, booked bookedLookup, windowDays int, logger *logging.Logger) *Service {
	if templates == nil {
		panic("availability: template store required")
	}
	if booked == nil {
		panic("availability: booked lookup required")
	}
	if windowDays <= 0 {
		windowDays = 14
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{templates: templates, booked: booked, windowDays: windowDays, logger: logger}
}

// ReplaceTemplate validates and overwrites the therapist's weekly template.
func (s *Service) ReplaceTemplate(ctx context.Context, therapistID uuid.UUID, days map[time.Weekday][]SlotDefinition) error {
	for weekday, slots := range days {
		if weekday < time.Sunday || weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidTemplate, weekday)
		}
		seen := make(map[string]bool, len(slots))
		for _, slot := range slots {
			if !booking.ValidStartTime(slot.StartTime) {
				return fmt.Errorf("%w: malformed start time %q", ErrInvalidTemplate, slot.StartTime)
			}
			if seen[slot.StartTime] {
				return fmt.Errorf("%w: duplicate start time %q on %s", ErrInvalidTemplate, slot.StartTime, weekday)
			}
			seen[slot.StartTime] = true
			if len(slot.Modes) == 0 {
				return fmt.Errorf("%w: slot %s has no modes", ErrInvalidTemplate, slot.StartTime)
			}
			for _, m := range slot.Modes {
				if !m.Valid() {
					return fmt.Errorf("%w: unknown consultation mode %q", ErrInvalidTemplate, m)
				}
			}
			if slot.PriceCents <= 0 {
				return fmt.Errorf("%w: slot %s price must be positive", ErrInvalidTemplate, slot.StartTime)
			}
		}
	}

	if err := s.templates.ReplaceTemplate(ctx, therapistID, days); err != nil {
		return err
	}
	s.logger.Info("weekly template replaced", "therapist_id", therapistID)
	return nil
}

// Template returns the therapist's full weekly template.
func (s *Service) Template(ctx context.Context, therapistID uuid.UUID) (*WeeklyTemplate, error) {
	return s.templates.GetTemplate(ctx, therapistID)
}

// AvailableSlots expands the template entry for the date's weekday and drops
// every start time consumed by an active appointment. A therapist without a
// template yields an empty list, not an error. An empty mode means no filter.
func (s *Service) AvailableSlots(ctx context.Context, therapistID uuid.UUID, date time.Time, mode booking.Mode) ([]Slot, error) {
	date = truncateToDay(date)

	defs, err := s.templates.DaySlots(ctx, therapistID, date.Weekday())
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(defs) == 0 {
		return nil, nil
	}

	taken, err := s.booked.BookedStartTimes(ctx, therapistID, date)
	if err != nil {
		return nil, fmt.Errorf("availability: check booked slots: %w", err)
	}

	var slots []Slot
	for _, def := range defs {
		if taken[def.StartTime] {
			continue
		}
		if mode != "" && !def.SupportsMode(mode) {
			continue
		}
		slots = append(slots, Slot{StartTime: def.StartTime, Modes: def.Modes, PriceCents: def.PriceCents})
	}
	return slots, nil
}

// NextAvailableDays walks a rolling window starting at from and collects up
// to maxDates dates that still have at least one open slot.
func (s *Service) NextAvailableDays(ctx context.Context, therapistID uuid.UUID, from time.Time, maxDates int, mode booking.Mode) ([]DayAvailability, error) {
	if maxDates <= 0 {
		maxDates = 5
	}
	from = truncateToDay(from)

	var days []DayAvailability
	for offset := 0; offset < s.windowDays && len(days) < maxDates; offset++ {
		date := from.AddDate(0, 0, offset)
		slots, err := s.AvailableSlots(ctx, therapistID, date, mode)
		if err != nil {
			return nil, err
		}
		if len(slots) > 0 {
			days = append(days, DayAvailability{Date: date, Slots: slots})
		}
	}
	return days, nil
}

// SlotFor resolves one template entry for a concrete date, start time and
// mode. Settlement uses it to price a booking and to re-validate a slot after
// an external checkout round trip.
func (s *Service) SlotFor(ctx context.Context, therapistID uuid.UUID, date time.Time, startTime string, mode booking.Mode) (*SlotDefinition, error) {
	date = truncateToDay(date)

	defs, err := s.templates.DaySlots(ctx, therapistID, date.Weekday())
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, ErrSlotNotInTemplate
		}
		return nil, err
	}
	for _, def := range defs {
		if def.StartTime != startTime {
			continue
		}
		if !def.SupportsMode(mode) {
			return nil, fmt.Errorf("%w: mode %s not offered at %s", ErrSlotNotInTemplate, mode, startTime)
		}
		return &def, nil
	}
	return nil, ErrSlotNotInTemplate
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

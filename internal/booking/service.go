package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/observability/metrics"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

const (
	EventAppointmentBooked    = "appointment.booked.v1"
	EventAppointmentCancelled = "appointment.cancelled.v1"
)

var startTimeRE = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidStartTime reports whether s is a well-formed HH:MM slot key.
func ValidStartTime(s string) bool {
	return startTimeRE.MatchString(s)
}

type outboxWriter interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

// Service is the booking ledger's write entry point. Reserve is the only way
// an appointment comes into existence.
type Service struct {
	repo    *Repository
	outbox  outboxWriter
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
}

// NewService constructs a booking service. The outbox may be nil, in which
// case no notification events are emitted.
func NewService(repo *Repository, outbox outboxWriter, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if repo == nil {
		panic("booking: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, outbox: outbox, metrics: m, logger: logger}
}

// Reserve validates the slot key and inserts a scheduled appointment. The
// uniqueness arbitration happens in the repository; this layer rejects
// malformed input before it reaches the database.
func (s *Service) Reserve(ctx context.Context, params ReserveParams) (*Appointment, error) {
	if !params.Mode.Valid() {
		return nil, fmt.Errorf("booking: unknown consultation mode %q", params.Mode)
	}
	if !ValidStartTime(params.StartTime) {
		return nil, fmt.Errorf("booking: malformed start time %q", params.StartTime)
	}
	if params.SessionFeeCents <= 0 {
		return nil, fmt.Errorf("booking: session fee must be positive")
	}
	if params.TherapistID == uuid.Nil || params.ClientID == uuid.Nil {
		return nil, fmt.Errorf("booking: therapist and client ids required")
	}

	appt, err := s.repo.Reserve(ctx, params)
	if err != nil {
		if errors.Is(err, ErrDoubleBooking) {
			s.metrics.ObserveReservation("conflict")
			return nil, err
		}
		s.metrics.ObserveReservation("error")
		return nil, err
	}
	s.metrics.ObserveReservation("reserved")

	s.emit(ctx, EventAppointmentBooked, map[string]any{
		"appointment_id":   appt.ID.String(),
		"therapist_id":     appt.TherapistID.String(),
		"client_id":        appt.ClientID.String(),
		"appointment_date": appt.AppointmentDate.Format(time.DateOnly),
		"start_time":       appt.StartTime,
		"mode":             string(appt.Mode),
	})

	s.logger.Info("appointment reserved",
		"appointment_id", appt.ID,
		"therapist_id", appt.TherapistID,
		"date", appt.AppointmentDate.Format(time.DateOnly),
		"start_time", appt.StartTime,
	)
	return appt, nil
}

// UpdateStatus applies a guarded transition. Only scheduled appointments move;
// completed and cancelled are terminal.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, cancelReason *string) (*Appointment, error) {
	if !status.Valid() || status == StatusScheduled {
		return nil, ErrInvalidTransition
	}
	if status != StatusCancelled {
		cancelReason = nil
	}

	appt, err := s.repo.UpdateStatus(ctx, id, status, cancelReason)
	if err != nil {
		return nil, err
	}

	if status == StatusCancelled {
		reason := ""
		if cancelReason != nil {
			reason = *cancelReason
		}
		s.emit(ctx, EventAppointmentCancelled, map[string]any{
			"appointment_id": appt.ID.String(),
			"therapist_id":   appt.TherapistID.String(),
			"client_id":      appt.ClientID.String(),
			"reason":         reason,
		})
	}

	s.logger.Info("appointment status updated", "appointment_id", id, "status", status)
	return appt, nil
}

// SetNotes records the therapist's session notes.
func (s *Service) SetNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	return s.repo.SetNotes(ctx, id, notes)
}

// GetByID fetches an appointment.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// Upcoming lists scheduled appointments from today forward for one party.
func (s *Service) Upcoming(ctx context.Context, party Party, ownerID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListUpcoming(ctx, party, ownerID, today())
}

// Past lists appointments before today or already terminal for one party.
func (s *Service) Past(ctx context.Context, party Party, ownerID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListPast(ctx, party, ownerID, today())
}

func (s *Service) emit(ctx context.Context, eventType string, payload map[string]any) {
	if s.outbox == nil {
		return
	}
	if _, err := s.outbox.Insert(ctx, eventType, payload); err != nil {
		// Notification delivery is fire-and-forget; a failed emit never blocks
		// the booking itself.
		s.logger.Error("failed to enqueue event", "type", eventType, "error", err)
	}
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

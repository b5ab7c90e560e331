package booking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/http/middleware"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// Handler exposes appointment lifecycle endpoints. Reservations are created
// by the settlement rails, never directly here.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("booking: service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

func appointmentIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "appointmentID"))
}

// callerParty maps the token role onto the appointment column the caller may
// act on.
func callerParty(r *http.Request) (Party, uuid.UUID, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return "", uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return "", uuid.Nil, false
	}
	switch claims.Role {
	case "therapist":
		return PartyTherapist, userID, true
	case "client":
		return PartyClient, userID, true
	default:
		return "", uuid.Nil, false
	}
}

type statusRequest struct {
	Status       string  `json:"status"`
	CancelReason *string `json:"cancel_reason,omitempty"`
}

// UpdateStatus handles PATCH /appointments/{appointmentID}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentIDParam(r)
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	party, userID, ok := callerParty(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	status := Status(req.Status)
	if !status.Valid() || status == StatusScheduled {
		http.Error(w, "status must be completed or cancelled", http.StatusBadRequest)
		return
	}
	if status == StatusCompleted && party != PartyTherapist {
		http.Error(w, "only the therapist may complete an appointment", http.StatusForbidden)
		return
	}

	current, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if !appointmentBelongsTo(current, party, userID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	appt, err := h.service.UpdateStatus(r.Context(), id, status, req.CancelReason)
	if err != nil {
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidTransition):
			http.Error(w, "appointment already finalized", http.StatusConflict)
		default:
			h.logger.Error("status update failed", "appointment_id", id, "error", err)
			http.Error(w, "failed to update status", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes handles PATCH /appointments/{appointmentID}/notes. Therapist only.
func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentIDParam(r)
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	party, userID, ok := callerParty(r)
	if !ok || party != PartyTherapist {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req notesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	current, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if current.TherapistID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	appt, err := h.service.SetNotes(r.Context(), id, req.Notes)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Get handles GET /appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := appointmentIDParam(r)
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	party, userID, ok := callerParty(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	appt, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if !appointmentBelongsTo(appt, party, userID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// List handles GET /appointments?scope=upcoming|past for the caller.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	party, userID, ok := callerParty(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "upcoming"
	}

	var appts []Appointment
	var err error
	switch scope {
	case "upcoming":
		appts, err = h.service.Upcoming(r.Context(), party, userID)
	case "past":
		appts, err = h.service.Past(r.Context(), party, userID)
	default:
		http.Error(w, "scope must be upcoming or past", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("appointment listing failed", "party", party, "error", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	if appts == nil {
		appts = []Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "appointments": appts})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrAppointmentNotFound) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	h.logger.Error("appointment lookup failed", "error", err)
	http.Error(w, "failed to load appointment", http.StatusInternalServerError)
}

func appointmentBelongsTo(appt *Appointment, party Party, userID uuid.UUID) bool {
	switch party {
	case PartyTherapist:
		return appt.TherapistID == userID
	case PartyClient:
		return appt.ClientID == userID
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

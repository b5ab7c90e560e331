package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/booking"
	"github.com/wellmind-health/therapy-platform/internal/http/middleware"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// Handler exposes slot discovery and weekly template management.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("availability: service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

func therapistIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "therapistID"))
}

func modeParam(r *http.Request) (booking.Mode, bool) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return "", true
	}
	mode, err := booking.ParseMode(raw)
	if err != nil {
		return "", false
	}
	return mode, true
}

// Slots handles GET /therapists/{therapistID}/slots?date=YYYY-MM-DD&mode=.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	therapistID, err := therapistIDParam(r)
	if err != nil {
		http.Error(w, "invalid therapist id", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if date.Before(time.Now().UTC().Truncate(24 * time.Hour)) {
		http.Error(w, "date is in the past", http.StatusBadRequest)
		return
	}
	mode, ok := modeParam(r)
	if !ok {
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}

	slots, err := h.service.AvailableSlots(r.Context(), therapistID, date, mode)
	if err != nil {
		h.logger.Error("slot listing failed", "therapist_id", therapistID, "error", err)
		http.Error(w, "failed to list slots", http.StatusInternalServerError)
		return
	}
	if slots == nil {
		slots = []Slot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"therapist_id": therapistID,
		"date":         date.Format(time.DateOnly),
		"slots":        slots,
	})
}

// Availability handles GET /therapists/{therapistID}/availability?days=N&mode=.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	therapistID, err := therapistIDParam(r)
	if err != nil {
		http.Error(w, "invalid therapist id", http.StatusBadRequest)
		return
	}
	mode, ok := modeParam(r)
	if !ok {
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}
	maxDates := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		maxDates, err = strconv.Atoi(raw)
		if err != nil || maxDates < 0 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
	}

	days, err := h.service.NextAvailableDays(r.Context(), therapistID, time.Now().UTC(), maxDates, mode)
	if err != nil {
		h.logger.Error("availability listing failed", "therapist_id", therapistID, "error", err)
		http.Error(w, "failed to list availability", http.StatusInternalServerError)
		return
	}
	if days == nil {
		days = []DayAvailability{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"therapist_id": therapistID,
		"days":         days,
	})
}

type templateRequest struct {
	Days map[string][]SlotDefinition `json:"days"` // weekday number -> slots
}

// ReplaceTemplate handles PUT /therapists/{therapistID}/template. Only the
// therapist themselves may replace their template.
func (h *Handler) ReplaceTemplate(w http.ResponseWriter, r *http.Request) {
	therapistID, err := therapistIDParam(r)
	if err != nil {
		http.Error(w, "invalid therapist id", http.StatusBadRequest)
		return
	}
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok || userID != therapistID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	days := make(map[time.Weekday][]SlotDefinition, len(req.Days))
	for key, slots := range req.Days {
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 || n > 6 {
			http.Error(w, "invalid weekday "+key, http.StatusBadRequest)
			return
		}
		days[time.Weekday(n)] = slots
	}

	if err := h.service.ReplaceTemplate(r.Context(), therapistID, days); err != nil {
		if isValidationError(err) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("template replace failed", "therapist_id", therapistID, "error", err)
		http.Error(w, "failed to save template", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Template handles GET /therapists/{therapistID}/template.
func (h *Handler) Template(w http.ResponseWriter, r *http.Request) {
	therapistID, err := therapistIDParam(r)
	if err != nil {
		http.Error(w, "invalid therapist id", http.StatusBadRequest)
		return
	}

	tpl, err := h.service.Template(r.Context(), therapistID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			http.Error(w, "no weekly template", http.StatusNotFound)
			return
		}
		h.logger.Error("template lookup failed", "therapist_id", therapistID, "error", err)
		http.Error(w, "failed to load template", http.StatusInternalServerError)
		return
	}

	days := make(map[string][]SlotDefinition, len(tpl.Days))
	for weekday, slots := range tpl.Days {
		days[strconv.Itoa(int(weekday))] = slots
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"therapist_id": tpl.TherapistID,
		"days":         days,
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTemplate)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

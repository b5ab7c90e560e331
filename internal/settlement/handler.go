package settlement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/availability"
	"github.com/wellmind-health/therapy-platform/internal/booking"
	"github.com/wellmind-health/therapy-platform/internal/http/middleware"
	"github.com/wellmind-health/therapy-platform/internal/wallet"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// Handler exposes the booking rails over HTTP: the wallet rail, the checkout
// rail, and the gateway confirmation webhook.
type Handler struct {
	orchestrator  *Orchestrator
	webhookSecret string
	logger        *logging.Logger
}

func NewHandler(orchestrator *Orchestrator, webhookSecret string, logger *logging.Logger) *Handler {
	if orchestrator == nil {
		panic("settlement: orchestrator is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{orchestrator: orchestrator, webhookSecret: webhookSecret, logger: logger}
}

type bookRequest struct {
	TherapistID string `json:"therapist_id"`
	Date        string `json:"date"` // YYYY-MM-DD
	StartTime   string `json:"start_time"`
	Mode        string `json:"mode"`
}

func (h *Handler) parseBookRequest(r *http.Request) (BookParams, string, bool) {
	clientID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return BookParams{}, "missing auth context", false
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return BookParams{}, "invalid payload", false
	}
	therapistID, err := uuid.Parse(req.TherapistID)
	if err != nil {
		return BookParams{}, "invalid therapist_id", false
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		return BookParams{}, "invalid date, expected YYYY-MM-DD", false
	}
	if date.Before(time.Now().UTC().Truncate(24 * time.Hour)) {
		return BookParams{}, "date is in the past", false
	}
	mode, err := booking.ParseMode(req.Mode)
	if err != nil {
		return BookParams{}, "invalid mode", false
	}
	if !booking.ValidStartTime(req.StartTime) {
		return BookParams{}, "invalid start_time, expected HH:MM", false
	}
	return BookParams{
		TherapistID: therapistID,
		ClientID:    clientID,
		Date:        date,
		StartTime:   req.StartTime,
		Mode:        mode,
	}, "", true
}

// CreateWalletBooking handles POST /bookings/wallet.
func (h *Handler) CreateWalletBooking(w http.ResponseWriter, r *http.Request) {
	params, msg, ok := h.parseBookRequest(r)
	if !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	appt, err := h.orchestrator.BookWithWallet(r.Context(), params)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt)
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	ProviderRef string `json:"provider_ref"`
}

// CreateCheckout handles POST /bookings/checkout.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	params, msg, ok := h.parseBookRequest(r)
	if !ok {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	session, err := h.orchestrator.CreateCheckout(r.Context(), params)
	if err != nil {
		var gwErr *GatewayError
		switch {
		case errors.Is(err, ErrSlotHeld):
			http.Error(w, "slot is held by another checkout", http.StatusConflict)
		case errors.Is(err, availability.ErrTemplateNotFound), errors.Is(err, availability.ErrSlotNotInTemplate):
			http.Error(w, "slot is not offered by this therapist", http.StatusUnprocessableEntity)
		case errors.As(err, &gwErr):
			h.logger.Error("checkout session failed", "error", err)
			http.Error(w, "checkout provider unavailable", http.StatusBadGateway)
		default:
			h.logger.Error("checkout creation failed", "error", err)
			http.Error(w, "failed to create checkout", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{CheckoutURL: session.URL, ProviderRef: session.ProviderRef})
}

type webhookEvent struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// HandleWebhook handles POST /webhooks/checkout. The gateway signs the raw
// body with a shared secret; anything unsigned is rejected before parsing.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Checkout-Signature")) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	succeeded := event.Status == "paid"
	appt, err := h.orchestrator.ConfirmCheckout(r.Context(), event.EventID, event.Reference, succeeded)
	if err != nil {
		var reconErr *ReconciliationRequiredError
		switch {
		case errors.Is(err, ErrBadReference):
			http.Error(w, "invalid reference", http.StatusBadRequest)
		case errors.Is(err, booking.ErrDoubleBooking),
			errors.Is(err, availability.ErrSlotNotInTemplate),
			errors.Is(err, availability.ErrTemplateNotFound):
			// The payment was refunded; ack so the gateway stops retrying.
			writeJSON(w, http.StatusOK, map[string]string{"result": "refunded"})
		case errors.As(err, &reconErr):
			// Recorded for the reconcile worker; retrying the webhook will
			// not help, so ack it.
			h.logger.Error("checkout confirmation needs reconciliation", "event_id", event.EventID, "error", err)
			writeJSON(w, http.StatusOK, map[string]string{"result": "reconciliation_pending"})
		default:
			h.logger.Error("checkout confirmation failed", "event_id", event.EventID, "error", err)
			http.Error(w, "confirmation failed", http.StatusInternalServerError)
		}
		return
	}

	if appt == nil {
		writeJSON(w, http.StatusOK, map[string]string{"result": "acknowledged"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "settled", "appointment_id": appt.ID})
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) writeBookingError(w http.ResponseWriter, err error) {
	var reconErr *ReconciliationRequiredError
	switch {
	case errors.Is(err, availability.ErrTemplateNotFound), errors.Is(err, availability.ErrSlotNotInTemplate):
		http.Error(w, "slot is not offered by this therapist", http.StatusUnprocessableEntity)
	case errors.Is(err, wallet.ErrInsufficientBalance):
		http.Error(w, "insufficient wallet balance", http.StatusPaymentRequired)
	case errors.Is(err, booking.ErrDoubleBooking):
		http.Error(w, "slot is no longer available", http.StatusConflict)
	case errors.As(err, &reconErr):
		h.logger.Error("wallet booking needs reconciliation", "error", err)
		http.Error(w, "booking failed, support has been notified", http.StatusInternalServerError)
	default:
		h.logger.Error("wallet booking failed", "error", err)
		http.Error(w, "booking failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

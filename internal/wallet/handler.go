package wallet

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/http/middleware"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// Handler exposes the caller's wallet: balance and transaction history.
// There is no deposit or withdrawal endpoint; balances move only through
// settlement and operator adjustments.
type Handler struct {
	wallets *Repository
	txns    *TransactionLog
	logger  *logging.Logger
}

func NewHandler(wallets *Repository, txns *TransactionLog, logger *logging.Logger) *Handler {
	if wallets == nil || txns == nil {
		panic("wallet: repository and transaction log are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{wallets: wallets, txns: txns, logger: logger}
}

func callerOwner(r *http.Request) (uuid.UUID, OwnerType, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, "", false
	}
	ownerType, err := ParseOwnerType(claims.Role)
	if err != nil {
		return uuid.Nil, "", false
	}
	return userID, ownerType, true
}

// Balance handles GET /wallet/balance. The wallet is created lazily on first
// read so every authenticated user has one.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ownerType, ok := callerOwner(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	wlt, err := h.wallets.GetOrCreate(r.Context(), userID, ownerType)
	if err != nil {
		h.logger.Error("wallet lookup failed", "owner_id", userID, "error", err)
		http.Error(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

// Transactions handles GET /wallet/transactions?limit=&offset=.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ownerType, ok := callerOwner(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	txns, err := h.txns.ListByOwner(r.Context(), userID, ownerType, limit, offset)
	if err != nil {
		h.logger.Error("transaction listing failed", "owner_id", userID, "error", err)
		http.Error(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns, "offset": offset})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/middleware"
	"github.com/avatarforge/backend/internal/models"
)

// LedgerService is the subset of the credit ledger used by HTTP.
type LedgerService interface {
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
	Purchase(ctx context.Context, userID uuid.UUID, amount int, description string) (uuid.UUID, int, error)
}

// CreditsHandler serves the /api/v1/credits endpoints.
type CreditsHandler struct {
	Svc    LedgerService
	Logger infra.Logger
}

// Balance handles GET /api/v1/credits/balance.
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.Svc.Balance(r.Context(), userID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("balance lookup failed")
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

type transactionResponse struct {
	ID            string    `json:"id"`
	Delta         int       `json:"delta"`
	Reason        string    `json:"reason"`
	Description   string    `json:"description"`
	BalanceAfter  int       `json:"balance_after"`
	RelatedTaskID *string   `json:"related_task_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transactions handles GET /api/v1/credits/transactions?limit=&offset=.
func (h *CreditsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txns, err := h.Svc.Transactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list transactions failed")
		writeError(w, http.StatusInternalServerError, "list transactions failed")
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		resp := transactionResponse{
			ID:           t.ID.String(),
			Delta:        t.Delta,
			Reason:       t.Reason,
			Description:  t.Description,
			BalanceAfter: t.BalanceAfter,
			CreatedAt:    t.CreatedAt,
		}
		if t.RelatedTaskID != nil {
			s := t.RelatedTaskID.String()
			resp.RelatedTaskID = &s
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

// Packages handles GET /api/v1/credits/packages.
func (h *CreditsHandler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": models.CreditPackages})
}

// --- POST /api/v1/credits/purchase ---

type purchaseRequest struct {
	PackageID string `json:"package_id"`
}

// Purchase handles POST /api/v1/credits/purchase. Payment collection happens
// out of band; this endpoint only books the purchased credits.
func (h *CreditsHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pkg := models.FindCreditPackage(req.PackageID)
	if pkg == nil {
		writeError(w, http.StatusBadRequest, "unknown package")
		return
	}
	total := pkg.Credits + pkg.Bonus
	txnID, newBalance, err := h.Svc.Purchase(r.Context(), userID, total, fmt.Sprintf("purchase package %s", pkg.ID))
	if err != nil {
		h.Logger.Error().Err(err).Str("package", pkg.ID).Msg("purchase failed")
		writeError(w, http.StatusInternalServerError, "purchase failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction_id": txnID.String(),
		"credits_added":  total,
		"credits":        newBalance,
	})
}

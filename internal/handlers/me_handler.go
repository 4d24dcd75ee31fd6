package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/middleware"
	"github.com/avatarforge/backend/internal/repository"
)

// MeHandler serves the authenticated user's profile.
type MeHandler struct {
	Users  *repository.UserRepo
	Logger infra.Logger
}

// Me handles GET /api/v1/auth/me.
func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	u, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.Logger.Error().Err(err).Msg("get profile failed")
		writeError(w, http.StatusInternalServerError, "get profile failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           u.ID,
		"email":        u.Email,
		"display_name": u.DisplayName,
		"credits":      u.Credits,
		"created_at":   u.CreatedAt.Format(time.RFC3339),
	})
}

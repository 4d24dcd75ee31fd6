package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avatarforge/backend/internal/generation"
	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/middleware"
	"github.com/avatarforge/backend/internal/models"
	"github.com/avatarforge/backend/internal/repository"
)

// AvatarsHandler serves the reference-image library.
type AvatarsHandler struct {
	Repo   *repository.AvatarRepo
	Logger infra.Logger
}

type createAvatarRequest struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

type avatarResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *AvatarsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createAvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "name and image_url are required")
		return
	}
	if u, err := url.Parse(req.ImageURL); err != nil || u.Scheme == "" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "image_url must be an absolute URL")
		return
	}
	a := &models.Avatar{
		ID:       uuid.New(),
		UserID:   userID,
		Name:     req.Name,
		ImageURL: req.ImageURL,
	}
	if err := h.Repo.Create(r.Context(), a); err != nil {
		h.Logger.Error().Err(err).Msg("create avatar failed")
		writeError(w, http.StatusInternalServerError, "create avatar failed")
		return
	}
	writeJSON(w, http.StatusCreated, avatarToResponse(a))
}

func (h *AvatarsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	avatars, err := h.Repo.ListByUserID(r.Context(), userID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list avatars failed")
		writeError(w, http.StatusInternalServerError, "list avatars failed")
		return
	}
	out := make([]avatarResponse, 0, len(avatars))
	for _, a := range avatars {
		out = append(out, avatarToResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"avatars": out})
}

func (h *AvatarsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "avatarID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid avatar id")
		return
	}
	if err := h.Repo.Delete(r.Context(), id, userID); err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "avatar not found")
			return
		}
		h.Logger.Error().Err(err).Msg("delete avatar failed")
		writeError(w, http.StatusInternalServerError, "delete avatar failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func avatarToResponse(a *models.Avatar) avatarResponse {
	return avatarResponse{
		ID:        a.ID.String(),
		Name:      a.Name,
		ImageURL:  a.ImageURL,
		CreatedAt: a.CreatedAt,
	}
}

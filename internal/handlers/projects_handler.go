package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avatarforge/backend/internal/generation"
	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/middleware"
	"github.com/avatarforge/backend/internal/models"
	"github.com/avatarforge/backend/internal/repository"
)

// ProjectsHandler serves project CRUD.
type ProjectsHandler struct {
	Repo   *repository.ProjectRepo
	Logger infra.Logger
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type projectResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	VideoURL    *string    `json:"video_url,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p := &models.Project{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.ProjectStatusDraft,
	}
	if err := h.Repo.Create(r.Context(), p); err != nil {
		h.Logger.Error().Err(err).Msg("create project failed")
		writeError(w, http.StatusInternalServerError, "create project failed")
		return
	}
	writeJSON(w, http.StatusCreated, projectToResponse(p))
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	projects, err := h.Repo.ListByUserID(r.Context(), userID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("list projects failed")
		writeError(w, http.StatusInternalServerError, "list projects failed")
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectToResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := h.Repo.GetForUser(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error().Err(err).Msg("get project failed")
		writeError(w, http.StatusInternalServerError, "get project failed")
		return
	}
	writeJSON(w, http.StatusOK, projectToResponse(p))
}

func (h *ProjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p := &models.Project{ID: id, UserID: userID, Name: req.Name, Description: req.Description}
	if err := h.Repo.Update(r.Context(), p); err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error().Err(err).Msg("update project failed")
		writeError(w, http.StatusInternalServerError, "update project failed")
		return
	}
	updated, err := h.Repo.GetForUser(r.Context(), id, userID)
	if err != nil {
		h.Logger.Error().Err(err).Msg("reload project failed")
		writeError(w, http.StatusInternalServerError, "update project failed")
		return
	}
	writeJSON(w, http.StatusOK, projectToResponse(updated))
}

func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if err := h.Repo.Delete(r.Context(), id, userID); err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error().Err(err).Msg("delete project failed")
		writeError(w, http.StatusInternalServerError, "delete project failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func projectToResponse(p *models.Project) projectResponse {
	return projectResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		VideoURL:    p.VideoURL,
		CompletedAt: p.CompletedAt,
		CreatedAt:   p.CreatedAt,
	}
}

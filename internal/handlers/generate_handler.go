package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avatarforge/backend/internal/generation"
	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/ledger"
	"github.com/avatarforge/backend/internal/middleware"
	"github.com/avatarforge/backend/internal/models"
)

const (
	defaultModel    = "wan2.6-i2v"
	minDuration     = 1
	maxDuration     = 10
	defaultDuration = 5
)

// GenerationService is the subset of the generation service used by HTTP.
type GenerationService interface {
	Submit(ctx context.Context, userID uuid.UUID, req generation.SubmitRequest) (*models.GenerationTask, error)
	GetTask(ctx context.Context, taskID, userID uuid.UUID) (*models.GenerationTask, error)
}

// GenerateHandler serves the video generation endpoints.
type GenerateHandler struct {
	Svc    GenerationService
	Logger infra.Logger
}

// --- POST /api/v1/generate/video ---

type generateVideoRequest struct {
	ProjectID      string `json:"project_id"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	ImageURL       string `json:"image_url"`
	Duration       int    `json:"duration"`
	OptimizePrompt bool   `json:"optimize_prompt"`
}

type taskResponse struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Model           string     `json:"model"`
	Prompt          string     `json:"prompt"`
	Status          string     `json:"status"`
	CreditsReserved int        `json:"credits_reserved"`
	ResultURL       *string    `json:"result_url,omitempty"`
	ErrorDetail     *string    `json:"error_detail,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// GenerateVideo handles POST /api/v1/generate/video.
// Auth -> Validate Input -> Reserve Credits + Create Task -> Enqueue -> 202.
func (h *GenerateHandler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req generateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project_id")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if req.Duration == 0 {
		req.Duration = defaultDuration
	}
	if req.Duration < minDuration || req.Duration > maxDuration {
		writeError(w, http.StatusBadRequest, "duration out of range")
		return
	}

	task, err := h.Svc.Submit(r.Context(), userID, generation.SubmitRequest{
		ProjectID:      projectID,
		Prompt:         req.Prompt,
		Model:          req.Model,
		ImageURL:       req.ImageURL,
		Duration:       req.Duration,
		OptimizePrompt: req.OptimizePrompt,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
		case errors.Is(err, generation.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		default:
			h.Logger.Error().Err(err).Msg("submit generation failed")
			writeError(w, http.StatusInternalServerError, "submit generation failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

// GetTask handles GET /api/v1/generate/tasks/{taskID}.
func (h *GenerateHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.Svc.GetTask(r.Context(), taskID, userID)
	if err != nil {
		if errors.Is(err, generation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.Logger.Error().Err(err).Msg("get task failed")
		writeError(w, http.StatusInternalServerError, "get task failed")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func taskToResponse(t *models.GenerationTask) taskResponse {
	return taskResponse{
		ID:              t.ID.String(),
		ProjectID:       t.ProjectID.String(),
		Model:           t.Model,
		Prompt:          t.Prompt,
		Status:          t.Status,
		CreditsReserved: t.CreditsReserved,
		ResultURL:       t.ResultURL,
		ErrorDetail:     t.ErrorDetail,
		CreatedAt:       t.CreatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

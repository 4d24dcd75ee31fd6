package models

import (
	"time"

	"github.com/google/uuid"
)

// Project status mirrors the generation outcome of its latest task.
const (
	ProjectStatusDraft     = "draft"
	ProjectStatusCompleted = "completed"
	ProjectStatusFailed    = "failed"
)

// Project groups generated videos for a user.
type Project struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	VideoURL    *string    `json:"video_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

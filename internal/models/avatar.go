package models

import (
	"time"

	"github.com/google/uuid"
)

// Avatar is a reusable digital-human reference image a user can animate.
type Avatar struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

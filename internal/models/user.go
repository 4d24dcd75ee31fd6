package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns projects, avatars and a prepaid credit balance. The balance is
// mutated only through the ledger; nothing else writes the credits column.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

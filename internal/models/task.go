package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation task lifecycle. A task moves pending -> processing -> completed|failed
// and never leaves a terminal state.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// ErrorDetailMaxLen bounds the stored failure message for audit and display.
const ErrorDetailMaxLen = 500

// GenerationTask is the durable record of one commissioned video generation.
// Created at submission (immediately after the credit reservation) and mutated
// only by the generation service until it reaches a terminal state.
type GenerationTask struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	ProjectID       uuid.UUID  `json:"project_id"`
	Model           string     `json:"model"`
	Prompt          string     `json:"prompt"`
	ImageURL        *string    `json:"image_url,omitempty"`
	Duration        int        `json:"duration"`
	CreditsReserved int        `json:"credits_reserved"`
	Status          string     `json:"status"`
	ProviderJobRef  *string    `json:"provider_job_ref,omitempty"`
	ResultURL       *string    `json:"result_url,omitempty"`
	ErrorDetail     *string    `json:"error_detail,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the task has reached completed or failed.
func (t *GenerationTask) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// IsValidTransition enforces the task state machine.
func IsValidTransition(from, to string) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}

// TruncateErrorDetail bounds a failure message to ErrorDetailMaxLen bytes.
func TruncateErrorDetail(msg string) string {
	if len(msg) <= ErrorDetailMaxLen {
		return msg
	}
	return msg[:ErrorDetailMaxLen]
}

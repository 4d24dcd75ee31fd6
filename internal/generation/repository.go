package generation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avatarforge/backend/internal/models"
)

// ErrNotFound is returned for unknown task ids and ownership mismatches.
var ErrNotFound = errors.New("task not found")

// ErrInvalidTransition is a programming-error class failure: something tried
// to move a task out of a terminal state or skip a lifecycle step.
var ErrInvalidTransition = errors.New("invalid task state transition")

// StateUpdate carries the optional fields written together with a state
// change. Nil fields keep their stored value.
type StateUpdate struct {
	ProviderJobRef *string
	ResultURL      *string
	ErrorDetail    *string
}

// Repository is the PostgreSQL task store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateTx inserts a new task inside the caller's transaction, so the task
// record and its credit reservation commit or roll back together.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error {
	return tx.QueryRow(ctx, `
		INSERT INTO generation_tasks (id, user_id, project_id, model, prompt, image_url, duration, credits_reserved, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, t.ID, t.UserID, t.ProjectID, t.Model, t.Prompt, t.ImageURL, t.Duration, t.CreditsReserved, t.Status).Scan(&t.CreatedAt)
}

// GetByID fetches a task without ownership scoping, for the worker.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	return r.get(ctx, `
		SELECT id, user_id, project_id, model, prompt, image_url, duration, credits_reserved, status, provider_job_ref, result_url, error_detail, created_at, completed_at
		FROM generation_tasks WHERE id = $1
	`, id)
}

// GetForUser fetches a task visible only to its creator.
func (r *Repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.GenerationTask, error) {
	return r.get(ctx, `
		SELECT id, user_id, project_id, model, prompt, image_url, duration, credits_reserved, status, provider_job_ref, result_url, error_detail, created_at, completed_at
		FROM generation_tasks WHERE id = $1 AND user_id = $2
	`, id, userID)
}

func (r *Repository) get(ctx context.Context, query string, args ...any) (*models.GenerationTask, error) {
	var t models.GenerationTask
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.ID, &t.UserID, &t.ProjectID, &t.Model, &t.Prompt, &t.ImageURL, &t.Duration,
		&t.CreditsReserved, &t.Status, &t.ProviderJobRef, &t.ResultURL, &t.ErrorDetail,
		&t.CreatedAt, &t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateState moves a task to newState, guarded by the state machine: the
// row is only written when its current status is a legal predecessor, so a
// terminal task can never be moved again. Attempting an illegal transition
// returns ErrInvalidTransition.
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, newState string, fields StateUpdate) error {
	from := allowedFrom(newState)
	if len(from) == 0 {
		return ErrInvalidTransition
	}
	completes := newState == models.TaskStatusCompleted || newState == models.TaskStatusFailed
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_tasks
		SET status = $2,
		    provider_job_ref = COALESCE($3, provider_job_ref),
		    result_url = COALESCE($4, result_url),
		    error_detail = COALESCE($5, error_detail),
		    completed_at = CASE WHEN $6 THEN now() ELSE completed_at END
		WHERE id = $1 AND status = ANY($7)
	`, id, newState, fields.ProviderJobRef, fields.ResultURL, fields.ErrorDetail, completes, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from an illegal transition.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

// allowedFrom derives the legal predecessor states for a transition from the
// model-level state machine, so the SQL guard and models.IsValidTransition can
// never drift apart.
func allowedFrom(to string) []string {
	all := []string{
		models.TaskStatusPending,
		models.TaskStatusProcessing,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
	}
	var from []string
	for _, s := range all {
		if models.IsValidTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avatarforge/backend/internal/generation"
	"github.com/avatarforge/backend/internal/models"
)

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) Create(ctx context.Context, p *models.Project) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO projects (id, user_id, name, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, p.ID, p.UserID, p.Name, p.Description, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *ProjectRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, description, status, video_url, completed_at, created_at, updated_at
		FROM projects WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &p.VideoURL, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, description, status, video_url, completed_at, created_at, updated_at
		FROM projects WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Status, &p.VideoURL, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepo) Update(ctx context.Context, p *models.Project) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET name = $3, description = $4, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, p.ID, p.UserID, p.Name, p.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generation.ErrNotFound
	}
	return nil
}

// SetOutcome records the finished state of the project's latest generation.
func (r *ProjectRepo) SetOutcome(ctx context.Context, id uuid.UUID, status string, videoURL *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE projects
		SET status = $2,
			video_url = COALESCE($3, video_url),
			completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $1
	`, id, status, videoURL)
	return err
}

func (r *ProjectRepo) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generation.ErrNotFound
	}
	return nil
}

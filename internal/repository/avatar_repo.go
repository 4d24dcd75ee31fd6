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

type AvatarRepo struct {
	pool *pgxpool.Pool
}

func NewAvatarRepo(pool *pgxpool.Pool) *AvatarRepo {
	return &AvatarRepo{pool: pool}
}

func (r *AvatarRepo) Create(ctx context.Context, a *models.Avatar) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO avatars (id, user_id, name, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, a.ID, a.UserID, a.Name, a.ImageURL).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AvatarRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Avatar, error) {
	var a models.Avatar
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, image_url, created_at, updated_at
		FROM avatars WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&a.ID, &a.UserID, &a.Name, &a.ImageURL, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AvatarRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Avatar, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, image_url, created_at, updated_at
		FROM avatars WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var avatars []*models.Avatar
	for rows.Next() {
		var a models.Avatar
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.ImageURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		avatars = append(avatars, &a)
	}
	return avatars, rows.Err()
}

func (r *AvatarRepo) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM avatars WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generation.ErrNotFound
	}
	return nil
}

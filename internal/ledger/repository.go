package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avatarforge/backend/internal/models"
)

// Repository is the PostgreSQL ledger store. It owns the SQL for the
// users.credits column and the credit_transactions table.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ AccountStore = (*Repository)(nil)
	_ EntryStore   = (*Repository)(nil)
)

// DeductCredits atomically deducts amount if credits >= amount. The condition
// and the decrement are one statement, so concurrent reservations serialize on
// the row and the balance can never go negative.
func (r *Repository) DeductCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE users SET credits = credits - $1, updated_at = now()
		WHERE id = $2 AND credits >= $1
		RETURNING credits
	`, amount, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return newBalance, err
}

// AddCredits adds amount to the user's balance and returns the new balance.
func (r *Repository) AddCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE users SET credits = credits + $1, updated_at = now()
		WHERE id = $2
		RETURNING credits
	`, amount, userID).Scan(&newBalance)
	return newBalance, err
}

// Balance returns the user's current credit balance.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
		SELECT credits FROM users WHERE id = $1
	`, userID).Scan(&balance)
	return balance, err
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, entry *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, delta, reason, description, balance_after, related_task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, entry.ID, entry.UserID, entry.Delta, entry.Reason, entry.Description, entry.BalanceAfter, entry.RelatedTaskID).Scan(&entry.CreatedAt)
}

// FindByTaskAndReason returns the entry for (related_task_id, reason), or nil.
// A partial unique index on the refund pair backs the idempotency check.
func (r *Repository) FindByTaskAndReason(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reason string) (*models.CreditTransaction, error) {
	var entry models.CreditTransaction
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, delta, reason, description, balance_after, related_task_id, created_at
		FROM credit_transactions
		WHERE related_task_id = $1 AND reason = $2
	`, taskID, reason).Scan(&entry.ID, &entry.UserID, &entry.Delta, &entry.Reason, &entry.Description, &entry.BalanceAfter, &entry.RelatedTaskID, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByUserID lists the user's entries ordered by recency.
func (r *Repository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, reason, description, balance_after, related_task_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var entry models.CreditTransaction
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Delta, &entry.Reason, &entry.Description, &entry.BalanceAfter, &entry.RelatedTaskID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &entry)
	}
	return list, rows.Err()
}

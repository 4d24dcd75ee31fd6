package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avatarforge/backend/internal/models"
)

// ErrInsufficientFunds is returned when the user's balance is too low for the
// requested reservation.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// AccountStore mutates the credit balance. Reserve semantics are a single
// storage-level conditional update, never a read followed by a write.
type AccountStore interface {
	// DeductCredits decrements the balance only if it is >= amount, as one
	// atomic statement, and returns the new balance. Returns
	// ErrInsufficientFunds when the condition fails.
	DeductCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newBalance int, err error)
	// AddCredits increments the balance unconditionally and returns the new balance.
	AddCredits(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (newBalance int, err error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
}

// EntryStore appends and reads the immutable transaction log.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, entry *models.CreditTransaction) error
	// FindByTaskAndReason returns the existing entry for (related_task_id,
	// reason) or nil when none exists.
	FindByTaskAndReason(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, reason string) (*models.CreditTransaction, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the credit ledger. Every balance mutation appends exactly one
// transaction row in the same database transaction as the balance update.
type Service struct {
	pool     TxBeginner
	accounts AccountStore
	entries  EntryStore
}

// NewService returns a ledger service over the given stores.
func NewService(pool TxBeginner, accounts AccountStore, entries EntryStore) *Service {
	return &Service{pool: pool, accounts: accounts, entries: entries}
}

// ReserveTx debits amount from the user inside the caller's transaction and
// appends the reserve entry. The debit is a single conditional update, so two
// concurrent reservations can never both spend the same credits.
func (s *Service) ReserveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, taskID uuid.UUID) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	newBalance, err := s.accounts.DeductCredits(ctx, tx, userID, amount)
	if err != nil {
		return uuid.Nil, err
	}
	entry := &models.CreditTransaction{
		ID:            uuid.New(),
		UserID:        userID,
		Delta:         -amount,
		Reason:        models.CreditReasonReserve,
		BalanceAfter:  newBalance,
		RelatedTaskID: &taskID,
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("append reserve entry: %w", err)
	}
	return entry.ID, nil
}

// Refund returns a task's reserved credits to the user. It is idempotent per
// (related_task_id, reason=refund): a second call for the same task returns
// the existing transaction id without crediting again.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount int, taskID uuid.UUID) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	existing, err := s.entries.FindByTaskAndReason(ctx, tx, taskID, models.CreditReasonRefund)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	newBalance, err := s.accounts.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return uuid.Nil, err
	}
	entry := &models.CreditTransaction{
		ID:            uuid.New(),
		UserID:        userID,
		Delta:         amount,
		Reason:        models.CreditReasonRefund,
		BalanceAfter:  newBalance,
		RelatedTaskID: &taskID,
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("append refund entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return entry.ID, nil
}

// Purchase credits the user after a (simulated) successful payment.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, amount int, description string) (uuid.UUID, int, error) {
	if amount <= 0 {
		return uuid.Nil, 0, ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, 0, err
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.accounts.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return uuid.Nil, 0, err
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Delta:        amount,
		Reason:       models.CreditReasonPurchase,
		Description:  description,
		BalanceAfter: newBalance,
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return uuid.Nil, 0, fmt.Errorf("append purchase entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, 0, err
	}
	return entry.ID, newBalance, nil
}

// Balance returns the user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.accounts.Balance(ctx, userID)
}

// Transactions lists the user's ledger entries, most recent first.
func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.entries.ListByUserID(ctx, userID, limit, offset)
}

package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/avatarforge/backend/internal/models"
)

// --- fakes ---

type stubStore struct {
	users     map[string]*models.User
	createErr error
}

func newStubStore() *stubStore {
	return &stubStore{users: map[string]*models.User{}}
}

func (s *stubStore) Create(ctx context.Context, email, passwordHash, displayName string) (*models.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
	}
	s.users[email] = u
	return u, nil
}

func (s *stubStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users[email], nil
}

type stubGranter struct {
	grants map[uuid.UUID]int
}

func newStubGranter() *stubGranter {
	return &stubGranter{grants: map[uuid.UUID]int{}}
}

func (g *stubGranter) Purchase(ctx context.Context, userID uuid.UUID, amount int, description string) (uuid.UUID, int, error) {
	g.grants[userID] += amount
	return uuid.New(), g.grants[userID], nil
}

// --- tests ---

func TestRegister_BooksWelcomeCredits(t *testing.T) {
	store := newStubStore()
	granter := newStubGranter()
	svc := NewService(store, granter, "test-secret")

	user, token, err := svc.Register(context.Background(), "a@b.com", "password123", "Ana")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if got := granter.grants[user.ID]; got != WelcomeCredits {
		t.Fatalf("granted %d credits, want %d", got, WelcomeCredits)
	}
	if user.Credits != WelcomeCredits {
		t.Fatalf("user.Credits = %d, want %d", user.Credits, WelcomeCredits)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store := newStubStore()
	store.createErr = &pgconn.PgError{Code: "23505"}
	svc := NewService(store, newStubGranter(), "test-secret")

	_, _, err := svc.Register(context.Background(), "a@b.com", "password123", "Ana")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	store := newStubStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store.users["a@b.com"] = &models.User{ID: uuid.New(), Email: "a@b.com", PasswordHash: string(hash)}
	svc := NewService(store, newStubGranter(), "test-secret")

	if _, _, err := svc.Login(context.Background(), "a@b.com", "battery-staple"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc := NewService(newStubStore(), newStubGranter(), "test-secret")

	if _, _, err := svc.Login(context.Background(), "ghost@b.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

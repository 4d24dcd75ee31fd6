package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avatarforge/backend/internal/models"
)

type mockLedgerService struct {
	balance      int
	txns         []*models.CreditTransaction
	purchased    int
	purchaseDesc string
}

func (m *mockLedgerService) Balance(_ context.Context, _ uuid.UUID) (int, error) {
	return m.balance, nil
}

func (m *mockLedgerService) Transactions(_ context.Context, _ uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	return m.txns, nil
}

func (m *mockLedgerService) Purchase(_ context.Context, _ uuid.UUID, amount int, description string) (uuid.UUID, int, error) {
	m.purchased = amount
	m.purchaseDesc = description
	m.balance += amount
	return uuid.New(), m.balance, nil
}

func TestBalance(t *testing.T) {
	h := &CreditsHandler{Svc: &mockLedgerService{balance: 42}, Logger: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.Balance(rec, authedRequest(http.MethodGet, "/api/v1/credits/balance", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["credits"] != 42 {
		t.Fatalf("credits = %d, want 42", resp["credits"])
	}
}

func TestBalance_Unauthenticated(t *testing.T) {
	h := &CreditsHandler{Svc: &mockLedgerService{}, Logger: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.Balance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestPurchase_KnownPackageAddsBonus(t *testing.T) {
	svc := &mockLedgerService{}
	h := &CreditsHandler{Svc: svc, Logger: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.Purchase(rec, authedRequest(http.MethodPost, "/api/v1/credits/purchase", `{"package_id":"standard"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	pkg := models.FindCreditPackage("standard")
	if svc.purchased != pkg.Credits+pkg.Bonus {
		t.Fatalf("purchased = %d, want %d", svc.purchased, pkg.Credits+pkg.Bonus)
	}
}

func TestPurchase_UnknownPackage(t *testing.T) {
	h := &CreditsHandler{Svc: &mockLedgerService{}, Logger: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.Purchase(rec, authedRequest(http.MethodPost, "/api/v1/credits/purchase", `{"package_id":"mega"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPackages_ListsCatalog(t *testing.T) {
	h := &CreditsHandler{Svc: &mockLedgerService{}, Logger: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.Packages(rec, httptest.NewRequest(http.MethodGet, "/api/v1/credits/packages", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Packages []models.CreditPackage `json:"packages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Packages) != len(models.CreditPackages) {
		t.Fatalf("packages = %d, want %d", len(resp.Packages), len(models.CreditPackages))
	}
}

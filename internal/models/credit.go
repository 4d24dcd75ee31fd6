package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction reasons. The ledger is append-only; for any user the
// current balance equals the sum of delta over all of their transactions.
const (
	CreditReasonReserve  = "reserve"
	CreditReasonRefund   = "refund"
	CreditReasonPurchase = "purchase"
)

// VideoGenerationCost is the flat price of one video generation task.
const VideoGenerationCost = 10

// CreditTransaction is one immutable ledger row.
type CreditTransaction struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Delta         int        `json:"delta"`
	Reason        string     `json:"reason"`
	Description   string     `json:"description,omitempty"`
	BalanceAfter  int        `json:"balance_after"`
	RelatedTaskID *uuid.UUID `json:"related_task_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreditPackage is a purchasable bundle. Payment itself is out of scope; the
// purchase endpoint simulates a successful payment and credits the ledger.
type CreditPackage struct {
	ID      string  `json:"id"`
	Credits int     `json:"credits"`
	Price   float64 `json:"price"`
	Bonus   int     `json:"bonus"`
	Popular bool    `json:"popular"`
}

// CreditPackages is the static catalog.
var CreditPackages = []CreditPackage{
	{ID: "basic", Credits: 10, Price: 9.9, Bonus: 0},
	{ID: "standard", Credits: 50, Price: 49, Bonus: 5, Popular: true},
	{ID: "pro", Credits: 100, Price: 89, Bonus: 15},
	{ID: "enterprise", Credits: 500, Price: 399, Bonus: 100},
}

// FindCreditPackage returns the package with the given id, or nil.
func FindCreditPackage(id string) *CreditPackage {
	for i := range CreditPackages {
		if CreditPackages[i].ID == id {
			return &CreditPackages[i]
		}
	}
	return nil
}

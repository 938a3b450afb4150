package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCurrency is the currency assigned to lazily created accounts.
const DefaultCurrency = "EUR"

// Account holds a user's current wallet balance.
// Balance is stored in integer minor units (cents) and is never negative.
// It is mutated exclusively through the ledger service.
type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"` // minor units
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount returns a fresh zero-balance account for the given user.
func NewAccount(userID int64) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   0,
		Currency:  DefaultCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

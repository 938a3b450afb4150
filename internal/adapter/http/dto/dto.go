package dto

import (
	"encoding/json"
	"time"

	"nebripop-wallet-service/internal/core/domain"

	"github.com/shopspring/decimal"
)

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50,safe_id"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// MutationRequest is the request body for deposits and withdrawals.
// Amount is a decimal string or number with at most 2 decimal places.
type MutationRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PurchaseRequest is the request body for a wallet-funded purchase.
type PurchaseRequest struct {
	SellerID int64           `json:"seller_id" binding:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
	Memo     string          `json:"memo" binding:"max=200"`
}

// WalletResponse is the response body for balance queries and mutations.
type WalletResponse struct {
	ID        string      `json:"id"`
	UserID    int64       `json:"user_id"`
	Balance   json.Number `json:"balance"`
	Currency  string      `json:"currency"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

// EntryResponse is one row of the transaction history.
type EntryResponse struct {
	ID        int64       `json:"id"`
	Kind      string      `json:"kind"`
	Amount    json.Number `json:"amount"`
	Memo      *string     `json:"memo,omitempty"`
	CreatedAt string      `json:"created_at"`
}

// EntryListResponse wraps a paginated transaction history page.
type EntryListResponse struct {
	Items      []EntryResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// NewWalletResponse converts a domain account into its API shape.
func NewWalletResponse(a *domain.Account) WalletResponse {
	return WalletResponse{
		ID:        a.ID.String(),
		UserID:    a.UserID,
		Balance:   domain.FormatMinor(a.Balance),
		Currency:  a.Currency,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}

// NewEntryResponse converts a ledger entry into its API shape.
func NewEntryResponse(e domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:        e.ID,
		Kind:      string(e.Kind),
		Amount:    domain.FormatMinor(e.Amount),
		Memo:      e.Memo,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

package ports

import (
	"context"
	"time"

	"nebripop-wallet-service/internal/core/domain"
)

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID int64, username string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID   int64
	Username string
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventPublisher emits transaction events after commit (best-effort).
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TransactionEvent) error
}

// --- Service Ports (Business Logic) ---

// LedgerService is the only component permitted to mutate account
// balances. Per-user operations are linearizable: concurrent deposits
// and withdrawals for one user never lose updates or oversubscribe
// funds.
type LedgerService interface {
	// GetBalance returns the account snapshot, lazily creating the
	// account on first query.
	GetBalance(ctx context.Context, userID int64) (*domain.Account, error)
	Deposit(ctx context.Context, req MutationRequest) (*domain.Account, error)
	Withdraw(ctx context.Context, req MutationRequest) (*domain.Account, error)
	// Purchase atomically moves funds from buyer to seller.
	Purchase(ctx context.Context, req PurchaseRequest) (*domain.Account, error)
	ListEntries(ctx context.Context, params EntryListParams) ([]domain.LedgerEntry, int64, error)
}

// MutationRequest holds validated input for a deposit or withdrawal.
type MutationRequest struct {
	UserID         int64
	Amount         int64  // minor units, must be > 0
	IdempotencyKey string // empty = no idempotency protection
}

// PurchaseRequest holds validated input for a wallet-funded purchase.
type PurchaseRequest struct {
	BuyerID        int64
	SellerID       int64
	Amount         int64 // minor units, must be > 0
	Memo           string
	IdempotencyKey string
}

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}

// RegisterRequest holds input for user registration.
type RegisterRequest struct {
	Username string
	Password string
}

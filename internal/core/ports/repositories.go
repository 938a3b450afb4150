package ports

import (
	"context"

	"nebripop-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository defines persistence operations for wallet accounts.
// Methods accepting pgx.Tx are used inside transaction blocks so the
// read-modify-write on a balance is serialized per user.
type AccountRepository interface {
	// CreateIfAbsent inserts a zero-balance account unless one already
	// exists for the user. Safe to call concurrently; the user_id unique
	// constraint guarantees at most one account per user.
	CreateIfAbsent(ctx context.Context, account *domain.Account) error
	GetByUserID(ctx context.Context, userID int64) (*domain.Account, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, newBalance int64) error
}

// EntryRepository defines persistence for the append-only transaction log.
type EntryRepository interface {
	// Append inserts one immutable entry inside the owning transaction
	// and fills in the generated sequence ID.
	Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	List(ctx context.Context, params EntryListParams) ([]domain.LedgerEntry, int64, error)
	// SumByUser returns the signed sum of all entry amounts for a user.
	SumByUser(ctx context.Context, userID int64) (int64, error)
}

// EntryListParams holds filter + pagination for listing ledger entries.
type EntryListParams struct {
	UserID   int64
	Kind     *domain.EntryKind // nil = all kinds
	Page     int
	PageSize int
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	// Create inserts a user and fills in the generated ID.
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

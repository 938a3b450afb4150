package domain

import "time"

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindDeposit    EntryKind = "deposit"
	EntryKindWithdrawal EntryKind = "withdrawal"
)

// Valid reports whether the kind is one of the known values.
func (k EntryKind) Valid() bool {
	return k == EntryKindDeposit || k == EntryKindWithdrawal
}

// LedgerEntry is an immutable record of one balance-changing event.
// Amount is signed minor units: positive for deposits, negative for
// withdrawals. The sum of all entries for a user equals the account
// balance at every commit point.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"` // signed minor units
	Kind      EntryKind `json:"kind"`
	Memo      *string   `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionEvent is published after a ledger entry commits.
type TransactionEvent struct {
	EntryID    int64     `json:"entry_id"`
	UserID     int64     `json:"user_id"`
	Kind       EntryKind `json:"kind"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

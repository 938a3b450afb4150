package domain

import (
	"strconv"
	"time"
)

// IdempotencyLog stores the serialized result of a completed wallet
// operation so client retries return the original response instead of
// applying the mutation twice.
type IdempotencyLog struct {
	Key          string    `json:"key"` // Format: "user_id:operation:client_key"
	UserID       int64     `json:"user_id"`
	ResponseJSON []byte    `json:"response_json"` // Cached response to return
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIdempotencyKey constructs the standard key format for a wallet
// operation scoped to one user.
func BuildIdempotencyKey(userID int64, operation string, clientKey string) string {
	return strconv.FormatInt(userID, 10) + ":" + operation + ":" + clientKey
}

// Package idempotency provides request-level, client-scoped
// deduplication independent of any single domain operation: given a
// (client, operation, payload) tuple it guarantees at-most-once
// execution by remembering the first outcome and replaying it for
// identical retries, while flagging retries that reuse a key with a
// different payload. This sits alongside, and does not replace,
// internal/settlement's own idempotency_key uniqueness constraint.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound           = errors.New("idempotency: key not found")
	ErrConflict           = errors.New("idempotency: key reused with a different request payload")
	ErrInProgress         = errors.New("idempotency: a request with this key is still in flight")
)

// Status tracks whether a guarded operation has finished.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one guarded request's remembered outcome.
type Record struct {
	Key           string
	ClientID      string
	OperationType string
	RequestHash   string
	Status        Status
	ResponseData  []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// HashRequest produces the stable RequestHash for a request payload,
// used to detect a key reused with a different body.
func HashRequest(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Store persists Records with first-writer-wins semantics.
type Store interface {
	// Begin inserts a new in-progress record if key is unused, or
	// returns the existing record (found=true) if it is. Implementations
	// use INSERT ... ON CONFLICT DO NOTHING plus a re-fetch so two
	// concurrent callers racing on the same key never both "win".
	Begin(ctx context.Context, r Record) (existing *Record, found bool, err error)

	// Complete stores the outcome for an in-progress key.
	Complete(ctx context.Context, key string, status Status, responseData []byte) error

	// Get returns the record for key, if any.
	Get(ctx context.Context, key string) (*Record, error)

	// DeleteExpired removes every record whose ExpiresAt has passed as
	// of now, returning the count removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

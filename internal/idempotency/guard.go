package idempotency

import (
	"context"
	"time"
)

// Guard wraps a Store with the begin/complete protocol callers drive
// around an arbitrary operation: start a guarded call, get back
// either a fresh slot to fill in or the previously recorded response
// to replay, then report the outcome.
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard creates a Guard whose records expire after ttl.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{store: store, ttl: ttl}
}

// Outcome is returned by Begin.
type Outcome struct {
	// Replayed is true when an existing completed record was found and
	// ResponseData holds its stored response.
	Replayed     bool
	ResponseData []byte
}

// Begin starts (or replays) a guarded call. clientID/operationType/key
// identify the call; requestHash is the caller's HashRequest output
// for the current payload. Returns ErrConflict if key was already used
// with a different payload, or ErrInProgress if a concurrent call with
// the same key hasn't completed yet.
func (g *Guard) Begin(ctx context.Context, clientID, operationType, key, requestHash string) (*Outcome, error) {
	r := Record{
		Key:           key,
		ClientID:      clientID,
		OperationType: operationType,
		RequestHash:   requestHash,
		Status:        StatusInProgress,
		ExpiresAt:     time.Now().Add(g.ttl),
	}
	existing, found, err := g.store.Begin(ctx, r)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Outcome{}, nil
	}
	if existing.RequestHash != requestHash {
		return nil, ErrConflict
	}
	switch existing.Status {
	case StatusInProgress:
		return nil, ErrInProgress
	case StatusFailed:
		// A failed attempt may be retried: reclaim the key as in-progress.
		if err := g.store.Complete(ctx, key, StatusInProgress, nil); err != nil {
			return nil, err
		}
		return &Outcome{}, nil
	default:
		return &Outcome{Replayed: true, ResponseData: existing.ResponseData}, nil
	}
}

// Complete records the final outcome for key.
func (g *Guard) Complete(ctx context.Context, key string, success bool, responseData []byte) error {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	return g.store.Complete(ctx, key, status, responseData)
}

// SweepExpired removes every record past its TTL.
func (g *Guard) SweepExpired(ctx context.Context) (int, error) {
	return g.store.DeleteExpired(ctx, time.Now())
}

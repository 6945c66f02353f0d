package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRequestStableForEqualPayloads(t *testing.T) {
	t.Parallel()
	type payload struct {
		Amount   string
		Currency string
	}
	h1, err := HashRequest(payload{Amount: "10.00", Currency: "USD"})
	require.NoError(t, err)
	h2, err := HashRequest(payload{Amount: "10.00", Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashRequest(payload{Amount: "10.01", Currency: "USD"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestGuardBeginFreshThenComplete(t *testing.T) {
	t.Parallel()
	guard := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	outcome, err := guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_1")
	require.NoError(t, err)
	assert.False(t, outcome.Replayed)

	require.NoError(t, guard.Complete(ctx, "key_1", true, []byte(`{"status":"settled"}`)))
}

func TestGuardBeginReplaysCompletedRecord(t *testing.T) {
	t.Parallel()
	guard := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	_, err := guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_1")
	require.NoError(t, err)
	require.NoError(t, guard.Complete(ctx, "key_1", true, []byte(`{"id":"tx_1"}`)))

	second, err := guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, []byte(`{"id":"tx_1"}`), second.ResponseData)
}

func TestGuardBeginConflictsOnDifferentPayload(t *testing.T) {
	t.Parallel()
	guard := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	_, err := guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_1")
	require.NoError(t, err)
	require.NoError(t, guard.Complete(ctx, "key_1", true, nil))

	_, err = guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGuardBeginInProgressBlocksConcurrentCall(t *testing.T) {
	t.Parallel()
	guard := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	_, err := guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_1")
	require.NoError(t, err)

	_, err = guard.Begin(ctx, "client_1", "execute_payment", "key_1", "hash_1")
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestGuardSweepExpired(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	guard := NewGuard(store, time.Hour)
	ctx := context.Background()

	_, err := guard.Begin(ctx, "client_1", "execute_payment", "key_expired", "hash_1")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "key_expired", StatusCompleted, nil))
	// Complete doesn't touch ExpiresAt, so force it into the past
	// directly to exercise the sweep.
	require.NoError(t, backdateExpiry(store, "key_expired", time.Now().Add(-time.Minute)))

	removed, err := guard.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "key_expired")
	assert.ErrorIs(t, err, ErrNotFound)
}

func backdateExpiry(store *MemoryStore, key string, expiresAt time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	r, ok := store.byID[key]
	if !ok {
		return ErrNotFound
	}
	r.ExpiresAt = expiresAt
	return nil
}

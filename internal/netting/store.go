package netting

import "context"

// PositionStore persists netting Position rows, keyed idempotently by
// (batch_id, participant_id, currency) so recomputing a batch's
// positions is a safe upsert rather than an append, using the same
// ON CONFLICT ... DO UPDATE idiom as internal/ledger/multicurrency.go.
type PositionStore interface {
	// Upsert writes or replaces the position for (batchID,
	// position.ParticipantID, position.Currency).
	Upsert(ctx context.Context, batchID string, position Position) error

	// ListByBatch returns every persisted position for a batch.
	ListByBatch(ctx context.Context, batchID string) ([]Position, error)
}

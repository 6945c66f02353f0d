package settlement

import "context"

// Store persists TransactionRecord rows and enforces the
// idempotency_key uniqueness invariant: InsertPending reports a
// collision as ErrDuplicateKey (PostgresStore maps pq.Error code 23505
// to it).
type Store interface {
	// InsertPending inserts a new Record in StatusPending. Returns
	// ErrDuplicateKey if idempotency_key already exists.
	InsertPending(ctx context.Context, r *Record) error

	// MarkSettled transitions a Pending transaction to Settled.
	MarkSettled(ctx context.Context, id string) (*Record, error)

	// MarkReversed transitions a Settled transaction to Reversed.
	MarkReversed(ctx context.Context, id string) (*Record, error)

	// GetByIdempotencyKey returns the transaction for a key, if any.
	GetByIdempotencyKey(ctx context.Context, key string) (*Record, bool, error)

	// GetByID returns a transaction by its identity.
	GetByID(ctx context.Context, id string) (*Record, error)

	// ListByBatch returns every transaction assigned to a batch,
	// whatever its current status.
	ListByBatch(ctx context.Context, batchID string) ([]*Record, error)

	// AssignBatch atomically sets a transaction's settlement_batch_id,
	// conditional on it currently being unset and Settled.
	AssignBatch(ctx context.Context, transactionID, batchID string) error

	// Atomic runs fn inside one atomic unit of work: PostgresStore
	// opens a single sql.LevelSerializable transaction that every
	// settlement.Store and ledger.Store call made with fn's ctx joins
	// (see internal/dbtx), so a multi-step write such as the
	// double-entry engine's insert→debit→credit→entries→settle
	// sequence commits or rolls back as one unit; MemoryStore's
	// primitives are already individually atomic under their own
	// mutex, so this is a plain call. fn's error rolls the unit back
	// (no-op for MemoryStore); a nil return commits it.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

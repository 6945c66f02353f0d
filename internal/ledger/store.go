package ledger

import (
	"context"

	"github.com/settlekit/settlement-engine/internal/money"
)

// Store provides the atomic conditional-update primitives the
// settlement engine depends on. Every mutating primitive runs inside
// one serialisable-isolation transaction so concurrent callers
// touching the same (account, currency) row are strictly ordered by
// the database, never by application-level locking.
type Store interface {
	// GetOrCreateBalance returns the balance row for (accountID,
	// currency), creating a zero balance lazily if none exists.
	GetOrCreateBalance(ctx context.Context, accountID, currency string) (AccountBalance, error)

	// CreditConditional atomically adds delta to Available and bumps
	// version, creating the row if absent.
	CreditConditional(ctx context.Context, accountID, currency string, delta money.Amount) (AccountBalance, error)

	// DebitConditional atomically subtracts delta from Available,
	// conditional on available-reserved >= delta, returning
	// ErrInsufficientFunds if the condition fails.
	DebitConditional(ctx context.Context, accountID, currency string, delta money.Amount) (AccountBalance, error)

	// UpdateWithVersion performs an optimistic-concurrency write of
	// the full balance, gated on the exact prior version matching
	// what's currently persisted. Returns ErrStaleVersion on mismatch.
	UpdateWithVersion(ctx context.Context, b AccountBalance) (AccountBalance, error)

	// InsertEntry appends an immutable LedgerEntry.
	InsertEntry(ctx context.Context, e *LedgerEntry) error

	// GetEntries returns all ledger entries for an account, ordered
	// by creation time ascending.
	GetEntries(ctx context.Context, accountID string) ([]*LedgerEntry, error)

	// GetEntriesByTransaction returns the (debit, credit) pair for a
	// transaction, or fewer if not both have been written yet.
	GetEntriesByTransaction(ctx context.Context, transactionID string) ([]*LedgerEntry, error)
}

// Package account manages the settlement engine's chart-of-accounts
// entities: identity, type, status, and the status transition table.
// It deliberately has no dependency on internal/ledger — closing an
// account requires checking its balance is zero, but that check is
// orchestrated one level up (in internal/settlement) to avoid an
// import cycle between account and ledger.
package account

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound          = errors.New("account: not found")
	ErrDuplicateExternal = errors.New("account: external_id already in use")
	ErrInvalidTransition = errors.New("account: invalid status transition")
	ErrNonZeroBalance    = errors.New("account: cannot close account with nonzero balance")
)

// Type classifies an account per standard accounting categories.
type Type string

const (
	TypeAsset     Type = "asset"
	TypeLiability Type = "liability"
	TypeRevenue   Type = "revenue"
	TypeExpense   Type = "expense"
)

// Status represents an account's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusClosed Status = "closed"
)

// validTransitions enumerates the allowed Status edges. Closed is
// terminal; Active and Frozen are mutually reachable.
var validTransitions = map[Status]map[Status]bool{
	StatusActive: {StatusFrozen: true, StatusClosed: true},
	StatusFrozen: {StatusActive: true, StatusClosed: true},
	StatusClosed: {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Account is a ledger participant: a bucket that balances, ledger
// entries, and transactions are keyed against.
type Account struct {
	ID         string            `json:"id"`
	ExternalID string            `json:"externalId"`
	Name       string            `json:"name"`
	Type       Type              `json:"type"`
	Status     Status            `json:"status"`
	Currency   string            `json:"currency"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Store persists Account records.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*Account, error)
	// UpdateStatus transitions an account to newStatus. When
	// transitioning to StatusClosed the caller must have already
	// verified the account's total balance is zero (via
	// internal/ledger) and pass that confirmation through
	// currentBalanceZero; the store itself has no visibility into
	// balances.
	UpdateStatus(ctx context.Context, id string, newStatus Status, currentBalanceZero bool) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Account, error)
}

// Package ledger implements the settlement engine's balance storage
// and append-only ledger-entry log: the conditional debit/credit
// primitives, optimistic-concurrency balance updates, and the two
// store implementations (PostgreSQL, in-memory) that back them.
package ledger

import (
	"errors"
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// Errors
var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrStaleVersion      = errors.New("ledger: stale version")
	ErrNotFound          = errors.New("ledger: not found")
)

// AccountBalance holds the three non-negative balance pockets for one
// (account, currency) pair, guarded by a monotonically increasing
// version for optimistic concurrency.
type AccountBalance struct {
	AccountID   string
	Currency    string
	Available   money.Amount
	Pending     money.Amount
	Reserved    money.Amount
	Version     int64
	LastUpdated time.Time
}

// Total is the sum of all three pockets.
func (b AccountBalance) Total() money.Amount {
	return b.Available.Add(b.Pending).Add(b.Reserved)
}

// Usable is what's available net of reservations: available − reserved.
func (b AccountBalance) Usable() money.Amount {
	return b.Available.Sub(b.Reserved)
}

// ZeroBalance returns a new-account starting balance.
func ZeroBalance(accountID, currency string) AccountBalance {
	return AccountBalance{
		AccountID:   accountID,
		Currency:    currency,
		Available:   money.Zero,
		Pending:     money.Zero,
		Reserved:    money.Zero,
		Version:     0,
		LastUpdated: time.Now(),
	}
}

// Credit adds delta to Available, bumping version. delta must be
// positive; callers enforce that at the boundary.
func Credit(b AccountBalance, delta money.Amount) AccountBalance {
	b.Available = b.Available.Add(delta)
	b.Version++
	b.LastUpdated = time.Now()
	return b
}

// Debit subtracts delta from Available, failing if usable < delta.
func Debit(b AccountBalance, delta money.Amount) (AccountBalance, error) {
	if b.Usable().Cmp(delta) < 0 {
		return b, ErrInsufficientFunds
	}
	b.Available = b.Available.Sub(delta)
	b.Version++
	b.LastUpdated = time.Now()
	return b, nil
}

// Reserve moves delta from unreserved availability into Reserved
// without touching Available — it earmarks funds already counted in
// Available so Usable() drops accordingly.
func Reserve(b AccountBalance, delta money.Amount) (AccountBalance, error) {
	if b.Usable().Cmp(delta) < 0 {
		return b, ErrInsufficientFunds
	}
	b.Reserved = b.Reserved.Add(delta)
	b.Version++
	b.LastUpdated = time.Now()
	return b, nil
}

// ReleaseReservation returns delta from Reserved, clamped so Reserved
// never goes negative.
func ReleaseReservation(b AccountBalance, delta money.Amount) AccountBalance {
	if delta.Cmp(b.Reserved) > 0 {
		delta = b.Reserved
	}
	b.Reserved = b.Reserved.Sub(delta)
	b.Version++
	b.LastUpdated = time.Now()
	return b
}

// MoveToPending shifts delta from Available to Pending.
func MoveToPending(b AccountBalance, delta money.Amount) (AccountBalance, error) {
	if b.Usable().Cmp(delta) < 0 {
		return b, ErrInsufficientFunds
	}
	b.Available = b.Available.Sub(delta)
	b.Pending = b.Pending.Add(delta)
	b.Version++
	b.LastUpdated = time.Now()
	return b, nil
}

// SettlePending removes delta from Pending, clamped so Pending never
// goes negative.
func SettlePending(b AccountBalance, delta money.Amount) AccountBalance {
	if delta.Cmp(b.Pending) > 0 {
		delta = b.Pending
	}
	b.Pending = b.Pending.Sub(delta)
	b.Version++
	b.LastUpdated = time.Now()
	return b
}

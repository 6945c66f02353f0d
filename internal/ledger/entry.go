package ledger

import (
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// EntryType distinguishes the two legs of a double-entry pair.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry is one immutable, append-only leg of a transaction's
// double-entry pair.
type LedgerEntry struct {
	ID            string
	TransactionID string
	AccountID     string
	EntryType     EntryType
	Amount        money.Amount
	Currency      string
	BalanceAfter  money.Amount
	EffectiveDate time.Time
	CreatedAt     time.Time
}

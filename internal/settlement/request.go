package settlement

import (
	"time"

	"github.com/settlekit/settlement-engine/internal/ledger"
	"github.com/settlekit/settlement-engine/internal/money"
)

// Request is the input to Engine.Execute.
type Request struct {
	ExternalID      string
	Type            Type
	SourceAccountID string
	DestAccountID   string
	Amount          money.Amount
	Currency        string
	FeeAmount       money.Amount
	IdempotencyKey  string
	EffectiveDate   *time.Time
	Metadata        map[string]string

	// FeeAccountID is an optional extension point: when set, a third
	// ledger entry crediting this account with FeeAmount is written
	// instead of treating the fee as an implicit spread retained by
	// the two-entry write. Nil by default.
	FeeAccountID *string
}

// ReversalRequest is the input to Engine.Reverse.
type ReversalRequest struct {
	TransactionID  string
	IdempotencyKey string
	// Reason is optional free-text stored in the reversal transaction's
	// metadata under the "reversal_reason" key.
	Reason *string
}

// Result is the outcome of a successful Execute or Reverse call.
type Result struct {
	Transaction     Record
	DebitEntry      ledger.LedgerEntry
	CreditEntry     ledger.LedgerEntry
	FeeEntry        *ledger.LedgerEntry
	SourceBalance   ledger.AccountBalance
	DestBalance     ledger.AccountBalance
	IdempotentReplay bool
}

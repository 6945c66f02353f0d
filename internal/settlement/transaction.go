// Package settlement implements the double-entry transaction engine:
// the single atomic primitive (Execute/Reverse) that validates a
// request, short-circuits on idempotency replay, and commits a
// balanced pair of ledger entries inside one serialisable transaction.
package settlement

import (
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// Type classifies a transaction.
type Type string

const (
	TypePayment    Type = "payment"
	TypeRefund     Type = "refund"
	TypeChargeback Type = "chargeback"
	TypeTransfer   Type = "transfer"
	TypeFee        Type = "fee"
)

// reversibleTypes are the only types whose settled transactions may
// be reversed.
var reversibleTypes = map[Type]bool{
	TypePayment:  true,
	TypeTransfer: true,
}

// IsReversible reports whether t may produce a reversal.
func (t Type) IsReversible() bool { return reversibleTypes[t] }

// Status is a transaction's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusFailed   Status = "failed"
	StatusReversed Status = "reversed"
)

// Record is the persisted transaction row.
type Record struct {
	ID                    string
	ExternalID            string
	Type                  Type
	Status                Status
	SourceAccountID       string
	DestinationAccountID  string
	Amount                money.Amount
	Currency              string
	FeeAmount             money.Amount
	SettlementBatchID     *string
	IdempotencyKey        string
	OriginalTransactionID *string
	Metadata              map[string]string
	CreatedAt             time.Time
	SettledAt             *time.Time
}

// NetAmount returns Amount - FeeAmount.
func (r Record) NetAmount() money.Amount {
	return r.Amount.Sub(r.FeeAmount)
}

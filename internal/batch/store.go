package batch

import (
	"context"
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// Store persists SettlementBatch rows.
type Store interface {
	Create(ctx context.Context, b *SettlementBatch) error
	Get(ctx context.Context, id string) (*SettlementBatch, error)

	// FindOpenBatch returns the Pending batch for (date, currency), if
	// one exists.
	FindOpenBatch(ctx context.Context, settlementDate time.Time, currency string) (*SettlementBatch, error)

	// FindReadyForProcessing returns Pending batches whose cut-off has
	// passed as of now.
	FindReadyForProcessing(ctx context.Context, now time.Time) ([]*SettlementBatch, error)

	// UpdateStatus performs an FSM-gated transition, optionally
	// stamping CompletedAt. Metadata is left unchanged.
	UpdateStatus(ctx context.Context, id string, newStatus Status, completedAt *time.Time) (*SettlementBatch, error)

	// UpdateTotals overwrites the running totals and transaction count.
	UpdateTotals(ctx context.Context, id string, count int, gross, net, fee money.Amount) error

	List(ctx context.Context, status Status, limit, offset int) ([]*SettlementBatch, error)
}

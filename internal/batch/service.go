package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/settlekit/settlement-engine/internal/events"
	"github.com/settlekit/settlement-engine/internal/idgen"
	"github.com/settlekit/settlement-engine/internal/metrics"
	"github.com/settlekit/settlement-engine/internal/money"
	"github.com/settlekit/settlement-engine/internal/netting"
	"github.com/settlekit/settlement-engine/internal/settlement"
	"github.com/settlekit/settlement-engine/internal/traces"
)

// Netter computes bilateral/multilateral positions and a minimal
// settlement-instruction report for a batch's settled transactions,
// persisting the positions as a side effect. internal/netting.Service
// satisfies this.
type Netter interface {
	ProcessBatch(ctx context.Context, batchID, currency string) (*netting.Report, error)
}

// WindowConfig configures the settlement window policy: which
// cadence governs new batches and the wall-clock cutoff used by
// WindowDaily.
type WindowConfig struct {
	Window      WindowType
	Daily       DailyCutOff
	AutoClose   bool
}

// DefaultWindowConfig returns the conservative default: daily
// windows, end-of-day cut-off, auto-close enabled.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Window:    WindowDaily,
		Daily:     DailyCutOff{Hour: 23, Minute: 59, Second: 59},
		AutoClose: true,
	}
}

// Service orchestrates batch creation, transaction assignment, and
// terminal processing, wiring this codebase's settlement.Store and
// events.Publisher the way other services here wire internal/ledger.
type Service struct {
	store     Store
	txStore   settlement.Store
	netter    Netter
	publisher events.Publisher
	config    WindowConfig
	logger    *slog.Logger
}

// NewService creates a batch service. netter may be nil, in which
// case TriggerProcessing skips the netting step entirely (useful for
// tests that only exercise the FSM) and no SettlementCompleted event
// is emitted.
func NewService(store Store, txStore settlement.Store, netter Netter, publisher events.Publisher, config WindowConfig, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, txStore: txStore, netter: netter, publisher: publisher, config: config, logger: logger}
}

// GetOrCreateCurrentBatch returns today's open batch for currency,
// creating one with a freshly computed cut-off if none exists yet.
func (s *Service) GetOrCreateCurrentBatch(ctx context.Context, currency string) (*SettlementBatch, error) {
	ctx, span := traces.StartSpan(ctx, "batch.GetOrCreateCurrentBatch", traces.Currency(currency))
	defer span.End()

	now := time.Now().UTC()
	existing, err := s.store.FindOpenBatch(ctx, now, currency)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	cutOff := CutOffFor(s.config.Window, now, s.config.Daily)
	b := &SettlementBatch{
		ID:             idgen.WithPrefix("batch_"),
		Status:         StatusPending,
		SettlementDate: now,
		Currency:       currency,
		CutOffTime:     cutOff,
		GrossAmount:    money.Zero,
		NetAmount:      money.Zero,
		FeeAmount:      money.Zero,
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	s.publishCreated(ctx, b)
	return b, nil
}

// AssignTransaction assigns a Settled transaction to an open batch and
// recalculates the batch's running totals.
func (s *Service) AssignTransaction(ctx context.Context, batchID, transactionID string) error {
	ctx, span := traces.StartSpan(ctx, "batch.AssignTransaction", traces.BatchID(batchID), traces.TransactionID(transactionID))
	defer span.End()

	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if !b.CanAcceptTransaction(time.Now().UTC()) {
		return ErrBatchNotOpen
	}
	if err := s.txStore.AssignBatch(ctx, transactionID, batchID); err != nil {
		return err
	}
	return s.RecalculateBatch(ctx, batchID)
}

// RecalculateBatch sums every transaction currently assigned to the
// batch and writes the totals back.
func (s *Service) RecalculateBatch(ctx context.Context, batchID string) error {
	txs, err := s.txStore.ListByBatch(ctx, batchID)
	if err != nil {
		return err
	}
	gross, fee := money.Zero, money.Zero
	for _, tx := range txs {
		gross = gross.Add(tx.Amount)
		fee = fee.Add(tx.FeeAmount)
	}
	net := gross.Sub(fee)
	return s.store.UpdateTotals(ctx, batchID, len(txs), gross, net, fee)
}

// CloseBatch transitions a batch Pending→Processing, the FSM-gated
// first half of TriggerProcessing.
func (s *Service) CloseBatch(ctx context.Context, batchID string) (*SettlementBatch, error) {
	return s.store.UpdateStatus(ctx, batchID, StatusProcessing, nil)
}

// TriggerProcessing closes the batch and walks its assigned
// transactions, tallying per-transaction outcomes into a
// ProcessingResult. A batch with some failures and some successes
// still reaches StatusCompleted — only a total wipeout (zero
// successes with at least one transaction) or a netting failure
// reaches StatusFailed.
func (s *Service) TriggerProcessing(ctx context.Context, batchID string) (*ProcessingResult, error) {
	ctx, span := traces.StartSpan(ctx, "batch.TriggerProcessing", traces.BatchID(batchID))
	defer span.End()
	start := time.Now()

	if _, err := s.CloseBatch(ctx, batchID); err != nil {
		return nil, err
	}

	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	txs, err := s.txStore.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := &ProcessingResult{BatchID: batchID, TotalTransactions: len(txs)}
	for _, tx := range txs {
		if err := s.processTransactionInBatch(ctx, tx); err != nil {
			result.FailedTransactions++
			result.Errors = append(result.Errors, ProcessingError{
				TransactionID: tx.ID,
				ErrorCode:     "processing_error",
				ErrorMessage:  err.Error(),
			})
			continue
		}
		result.SuccessfulTransactions++
	}

	finalStatus := StatusCompleted
	if len(txs) > 0 && result.SuccessfulTransactions == 0 {
		finalStatus = StatusFailed
	}

	var report *netting.Report
	if finalStatus == StatusCompleted && s.netter != nil && len(txs) > 0 {
		// D asks E to compute positions on the batch's transactions
		// before marking it completed; a netting failure (most
		// notably ConservationViolated) fails the whole batch rather
		// than leaving it completed with unreconciled positions.
		report, err = s.netter.ProcessBatch(ctx, batchID, b.Currency)
		if err != nil {
			s.logger.Error("netting failed for batch", "batch_id", batchID, "error", err)
			finalStatus = StatusFailed
		}
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if finalStatus == StatusCompleted {
		completedAt = &now
	}
	if _, err := s.store.UpdateStatus(ctx, batchID, finalStatus, completedAt); err != nil {
		return nil, err
	}

	result.Status = finalStatus
	result.GrossAmount = b.GrossAmount
	result.NetAmount = b.NetAmount
	result.FeeAmount = b.FeeAmount
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	metrics.BatchesTotal.WithLabelValues(string(finalStatus)).Inc()
	if finalStatus == StatusCompleted {
		s.publishCompleted(ctx, b, completedAt)
		if s.netter != nil {
			s.publishSettlementCompleted(ctx, b, report, result.ProcessingTimeMs)
		}
	}
	return result, nil
}

// processTransactionInBatch is the per-transaction hook during batch
// processing. This codebase's batch processing is limited to
// aggregation and netting input preparation (internal/netting reads
// the batch's transactions separately) — there is no per-transaction
// settlement side effect left to perform here, so this always
// succeeds once the transaction is confirmed Settled.
func (s *Service) processTransactionInBatch(_ context.Context, tx *settlement.Record) error {
	if tx.Status != settlement.StatusSettled {
		return settlement.ErrInvalidStateTransition
	}
	return nil
}

// RetryBatch transitions a Failed batch back to Pending so it can be
// reassigned and retried.
func (s *Service) RetryBatch(ctx context.Context, batchID string) (*SettlementBatch, error) {
	return s.store.UpdateStatus(ctx, batchID, StatusPending, nil)
}

// FailBatch transitions a batch to Failed and sets reason under
// Metadata["failure_reason"] on the returned batch. The reason is not
// written to the store.
func (s *Service) FailBatch(ctx context.Context, batchID string, reason string) (*SettlementBatch, error) {
	b, err := s.store.UpdateStatus(ctx, batchID, StatusFailed, nil)
	if err != nil {
		return nil, err
	}
	if b.Metadata == nil {
		b.Metadata = map[string]string{}
	}
	b.Metadata["failure_reason"] = reason
	metrics.BatchesTotal.WithLabelValues(string(StatusFailed)).Inc()
	return b, nil
}

// AutoCloseExpired finds every Pending batch whose cut-off has passed
// and triggers its processing, logging (not failing) on individual
// errors so one bad batch doesn't block the rest. No-ops if
// auto-close is disabled.
func (s *Service) AutoCloseExpired(ctx context.Context) (int, error) {
	if !s.config.AutoClose {
		return 0, nil
	}
	ready, err := s.store.FindReadyForProcessing(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, b := range ready {
		if _, err := s.TriggerProcessing(ctx, b.ID); err != nil {
			s.logger.Warn("auto-close failed for batch", "batch_id", b.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// List returns batches in a status, newest first.
func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*SettlementBatch, error) {
	return s.store.List(ctx, status, limit, offset)
}

func (s *Service) publishCreated(ctx context.Context, b *SettlementBatch) {
	_ = s.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.BatchCreated,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload:   batchPayload(b),
	})
}

func (s *Service) publishCompleted(ctx context.Context, b *SettlementBatch, completedAt *time.Time) {
	payload := batchPayload(b)
	payload.CompletedAt = completedAt
	_ = s.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.BatchCompleted,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload:   payload,
	})
}

func (s *Service) publishSettlementCompleted(ctx context.Context, b *SettlementBatch, report *netting.Report, processingTimeMs int64) {
	efficiency := "0"
	if report != nil {
		efficiency = report.Efficiency.String()
	}
	_ = s.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.SettlementCompleted,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload: events.SettlementCompletedPayload{
			BatchID:           b.ID,
			Currency:          b.Currency,
			SettlementDate:    b.SettlementDate.Format("2006-01-02"),
			GrossAmount:       b.GrossAmount.String(),
			NetAmount:         b.NetAmount.String(),
			NettingEfficiency: efficiency,
			ProcessingTimeMs:  processingTimeMs,
		},
	})
}

func batchPayload(b *SettlementBatch) events.BatchPayload {
	return events.BatchPayload{
		BatchID:          b.ID,
		Status:           string(b.Status),
		SettlementDate:   b.SettlementDate.Format("2006-01-02"),
		Currency:         b.Currency,
		TransactionCount: b.TransactionCount,
		GrossAmount:      b.GrossAmount.String(),
		NetAmount:        b.NetAmount.String(),
		FeeAmount:        b.FeeAmount.String(),
	}
}

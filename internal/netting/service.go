package netting

import (
	"context"
	"log/slog"
	"time"

	"github.com/settlekit/settlement-engine/internal/events"
	"github.com/settlekit/settlement-engine/internal/idgen"
	"github.com/settlekit/settlement-engine/internal/metrics"
	"github.com/settlekit/settlement-engine/internal/settlement"
	"github.com/settlekit/settlement-engine/internal/traces"
)

// Service wires the pure netting computations to a batch's settled
// transactions, persists the resulting positions, and emits
// PositionCalculated/NettingCompleted events.
type Service struct {
	positions PositionStore
	txStore   settlement.Store
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates a netting service.
func NewService(positions PositionStore, txStore settlement.Store, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{positions: positions, txStore: txStore, publisher: publisher, logger: logger}
}

// ProcessBatch loads every transaction assigned to batchID, computes
// its multilateral net positions and bilateral pairs, persists the
// positions, verifies conservation, and returns the combined report.
func (s *Service) ProcessBatch(ctx context.Context, batchID string, currency string) (*Report, error) {
	ctx, span := traces.StartSpan(ctx, "netting.ProcessBatch", traces.BatchID(batchID), traces.Currency(currency))
	defer span.End()

	txs, err := s.txStore.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	flows := make([]Flow, 0, len(txs))
	for _, tx := range txs {
		if tx.Currency != currency {
			continue
		}
		flows = append(flows, Flow{
			From:     tx.SourceAccountID,
			To:       tx.DestinationAccountID,
			Amount:   tx.NetAmount(),
			Currency: tx.Currency,
		})
	}

	report := BuildReport(batchID, flows, currency)
	multilateral := ComputeMultilateral(flows, currency)
	if err := ConservationCheck(multilateral.Positions); err != nil {
		return nil, err
	}

	for _, p := range multilateral.Positions {
		if err := s.positions.Upsert(ctx, batchID, p); err != nil {
			return nil, err
		}
		s.publishPositionCalculated(ctx, batchID, p)
	}

	for _, ins := range report.Instructions {
		metrics.NettingInstructionsTotal.WithLabelValues(string(ins.Type)).Inc()
	}
	metrics.NettingEfficiency.WithLabelValues(currency).Set(report.Efficiency.Decimal().InexactFloat64())

	s.publishNettingCompleted(ctx, report)
	return &report, nil
}

func (s *Service) publishPositionCalculated(ctx context.Context, batchID string, p Position) {
	_ = s.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.PositionCalculated,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload: events.PositionCalculatedPayload{
			BatchID:          batchID,
			ParticipantID:    p.ParticipantID,
			Currency:         p.Currency,
			GrossReceivable:  p.GrossReceivable.String(),
			GrossPayable:     p.GrossPayable.String(),
			NetPosition:      p.NetPosition.String(),
			TransactionCount: p.TransactionCount,
		},
	})
}

func (s *Service) publishNettingCompleted(ctx context.Context, report Report) {
	_ = s.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.NettingCompleted,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload: events.NettingCompletedPayload{
			BatchID:          report.BatchID,
			Currency:         report.Currency,
			ParticipantCount: report.ParticipantCount,
			GrossVolume:      report.GrossVolume.String(),
			NetVolume:        report.NetVolume.String(),
			ReductionAmount:  report.ReductionAmount.String(),
			InstructionCount: len(report.Instructions),
		},
	})
}

package settlement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/settlekit/settlement-engine/internal/account"
	"github.com/settlekit/settlement-engine/internal/events"
	"github.com/settlekit/settlement-engine/internal/idgen"
	"github.com/settlekit/settlement-engine/internal/ledger"
	"github.com/settlekit/settlement-engine/internal/metrics"
	"github.com/settlekit/settlement-engine/internal/money"
	"github.com/settlekit/settlement-engine/internal/retry"
	"github.com/settlekit/settlement-engine/internal/traces"
)

// Engine is the double-entry transaction engine: the atomic,
// idempotent write path that turns a transfer request into a balanced
// pair of ledger entries. Each step follows the span-per-op, metrics
// timer, event-emission-after-mutation shape used throughout this
// codebase, generalized from a single-pocket credit/debit into a
// balanced two-entry write.
type Engine struct {
	txStore      Store
	ledgerStore  ledger.Store
	accountStore account.Store
	publisher    events.Publisher
	logger       *slog.Logger
}

// New creates a double-entry engine.
func New(txStore Store, ledgerStore ledger.Store, accountStore account.Store, publisher events.Publisher, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		txStore:      txStore,
		ledgerStore:  ledgerStore,
		accountStore: accountStore,
		publisher:    publisher,
		logger:       logger,
	}
}

// staleVersionAttempts bounds the retry of optimistic-concurrency
// conflicts on balance writes.
const staleVersionAttempts = 3

// Execute validates the request, short-circuits on idempotency
// replay, gates on account status, materializes balances, prechecks
// funds, then atomically inserts the transaction, debits the source,
// credits the destination, writes both ledger entries, and marks the
// transaction settled.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.Execute",
		traces.IdempotencyKey(req.IdempotencyKey), traces.Amount(req.Amount.String()), traces.Currency(req.Currency))
	defer span.End()
	timer := metrics.TransactionDuration.WithLabelValues("execute")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	if err := e.validate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if existing, found, err := e.txStore.GetByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if found {
		result, err := e.buildExistingResult(ctx, existing)
		if err != nil {
			return nil, err
		}
		result.IdempotentReplay = true
		return result, nil
	}

	src, err := e.accountStore.Get(ctx, req.SourceAccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	dst, err := e.accountStore.Get(ctx, req.DestAccountID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	if src.Status != account.StatusActive {
		return nil, ErrAccountNotOperational
	}
	if dst.Status != account.StatusActive {
		return nil, ErrAccountNotOperational
	}

	sourceBalance, err := e.ledgerStore.GetOrCreateBalance(ctx, req.SourceAccountID, req.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := e.ledgerStore.GetOrCreateBalance(ctx, req.DestAccountID, req.Currency); err != nil {
		return nil, err
	}
	if sourceBalance.Usable().Cmp(req.Amount) < 0 {
		metrics.TransactionsTotal.WithLabelValues("insufficient_funds").Inc()
		return nil, ErrInsufficientFunds
	}

	record := &Record{
		ID:              idgen.WithPrefix("txn_"),
		ExternalID:      req.ExternalID,
		Type:            req.Type,
		Status:          StatusPending,
		SourceAccountID: req.SourceAccountID,
		DestinationAccountID: req.DestAccountID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		FeeAmount:       req.FeeAmount,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        req.Metadata,
		CreatedAt:       time.Now(),
	}
	netAmount := record.NetAmount()
	effectiveDate := time.Now().UTC()
	if req.EffectiveDate != nil {
		effectiveDate = *req.EffectiveDate
	}

	// Steps 7-11 of the write path — insert pending, debit source,
	// credit destination, write both ledger entries, mark settled —
	// run inside one Atomic unit so they commit or roll back together
	// (see internal/dbtx). retry.Do wraps the whole unit rather than a
	// single statement: a serialization failure on any statement
	// aborts the live Postgres transaction, so only re-running the
	// entire block in a fresh transaction can recover.
	var (
		updatedSource, updatedDest ledger.AccountBalance
		debitEntry, creditEntry    *ledger.LedgerEntry
		feeEntry                   *ledger.LedgerEntry
		settled                    *Record
		duplicateHit               bool
	)
	err = retry.Do(ctx, staleVersionAttempts, 20*time.Millisecond, func() error {
		return e.txStore.Atomic(ctx, func(txCtx context.Context) error {
			if err := e.txStore.InsertPending(txCtx, record); err != nil {
				if err == ErrDuplicateKey {
					duplicateHit = true
					return nil
				}
				return retry.Permanent(err)
			}

			var debitErr error
			updatedSource, debitErr = e.ledgerStore.DebitConditional(txCtx, req.SourceAccountID, req.Currency, req.Amount)
			if debitErr == ledger.ErrInsufficientFunds {
				return retry.Permanent(ErrInsufficientFunds)
			}
			if debitErr != nil {
				return debitErr
			}

			var creditErr error
			updatedDest, creditErr = e.ledgerStore.CreditConditional(txCtx, req.DestAccountID, req.Currency, netAmount)
			if creditErr != nil {
				return creditErr
			}

			debitEntry = &ledger.LedgerEntry{
				ID:            idgen.WithPrefix("entry_"),
				TransactionID: record.ID,
				AccountID:     req.SourceAccountID,
				EntryType:     ledger.EntryDebit,
				Amount:        req.Amount,
				Currency:      req.Currency,
				BalanceAfter:  updatedSource.Available,
				EffectiveDate: effectiveDate,
				CreatedAt:     time.Now(),
			}
			if err := e.ledgerStore.InsertEntry(txCtx, debitEntry); err != nil {
				return err
			}

			creditEntry = &ledger.LedgerEntry{
				ID:            idgen.WithPrefix("entry_"),
				TransactionID: record.ID,
				AccountID:     req.DestAccountID,
				EntryType:     ledger.EntryCredit,
				Amount:        netAmount,
				Currency:      req.Currency,
				BalanceAfter:  updatedDest.Available,
				EffectiveDate: effectiveDate,
				CreatedAt:     time.Now(),
			}
			if err := e.ledgerStore.InsertEntry(txCtx, creditEntry); err != nil {
				return err
			}

			if req.FeeAccountID != nil && req.FeeAmount.IsPositive() {
				feeBalance, err := e.ledgerStore.CreditConditional(txCtx, *req.FeeAccountID, req.Currency, req.FeeAmount)
				if err != nil {
					return err
				}
				feeEntry = &ledger.LedgerEntry{
					ID:            idgen.WithPrefix("entry_"),
					TransactionID: record.ID,
					AccountID:     *req.FeeAccountID,
					EntryType:     ledger.EntryCredit,
					Amount:        req.FeeAmount,
					Currency:      req.Currency,
					BalanceAfter:  feeBalance.Available,
					EffectiveDate: effectiveDate,
					CreatedAt:     time.Now(),
				}
				if err := e.ledgerStore.InsertEntry(txCtx, feeEntry); err != nil {
					return err
				}
			}

			var settleErr error
			settled, settleErr = e.txStore.MarkSettled(txCtx, record.ID)
			return settleErr
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if duplicateHit {
		existing, _, getErr := e.txStore.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if getErr != nil {
			return nil, getErr
		}
		result, buildErr := e.buildExistingResult(ctx, existing)
		if buildErr != nil {
			return nil, buildErr
		}
		result.IdempotentReplay = true
		return result, nil
	}

	metrics.TransactionsTotal.WithLabelValues("settled").Inc()
	e.publishSettled(ctx, settled, netAmount)

	return &Result{
		Transaction:   *settled,
		DebitEntry:    *debitEntry,
		CreditEntry:   *creditEntry,
		FeeEntry:      feeEntry,
		SourceBalance: updatedSource,
		DestBalance:   updatedDest,
	}, nil
}

// Reverse swaps source and destination on the original transaction,
// uses the original's net_amount as gross with zero fee, and marks
// the original Settled→Reversed.
func (e *Engine) Reverse(ctx context.Context, req ReversalRequest) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.Reverse", traces.TransactionID(req.TransactionID))
	defer span.End()
	timer := metrics.TransactionDuration.WithLabelValues("reverse")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	if existing, found, err := e.txStore.GetByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if found {
		result, err := e.buildExistingResult(ctx, existing)
		if err != nil {
			return nil, err
		}
		result.IdempotentReplay = true
		return result, nil
	}

	original, err := e.txStore.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != StatusSettled {
		return nil, ErrNotReversible
	}
	if !original.Type.IsReversible() {
		return nil, ErrNotReversible
	}

	metadata := map[string]string{"original_transaction_id": original.ID}
	if req.Reason != nil {
		metadata["reversal_reason"] = *req.Reason
	}

	reversalType := TypeRefund
	if original.Type == TypeTransfer {
		reversalType = TypeTransfer
	}

	reversalReq := Request{
		ExternalID:      "reversal-" + original.ExternalID,
		Type:            reversalType,
		SourceAccountID: original.DestinationAccountID,
		DestAccountID:   original.SourceAccountID,
		Amount:          original.NetAmount(),
		Currency:        original.Currency,
		FeeAmount:       money.Zero,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        metadata,
	}

	result, err := e.Execute(ctx, reversalReq)
	if err != nil {
		return nil, err
	}
	// OriginalTransactionID is set on the returned reversal record
	// only. The stored reversal row does not carry it in its
	// original_transaction_id field; it keeps the original's id in its
	// metadata under "original_transaction_id", and an idempotent
	// replay of the reversal returns the record without it.
	result.Transaction.OriginalTransactionID = &original.ID

	reversedOriginal, err := e.txStore.MarkReversed(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	e.publishReversed(ctx, &result.Transaction, reversedOriginal.ID, reversalReq.Amount)

	return result, nil
}

// CloseAccount transitions an account to Closed, first summing its
// ledger balance to enforce the invariant that a Closed account must
// have zero total balance at the moment of closure. account.Store has
// no dependency on internal/ledger (see internal/account/account.go),
// so this orchestration — fetch the account, fetch its balance, pass
// the zero check through — lives here rather than in the store.
func (e *Engine) CloseAccount(ctx context.Context, accountID string) error {
	ctx, span := traces.StartSpan(ctx, "settlement.CloseAccount", traces.AccountID(accountID))
	defer span.End()

	acct, err := e.accountStore.Get(ctx, accountID)
	if err != nil {
		return mapAccountErr(err)
	}
	balance, err := e.ledgerStore.GetOrCreateBalance(ctx, accountID, acct.Currency)
	if err != nil {
		return err
	}
	if err := e.accountStore.UpdateStatus(ctx, accountID, account.StatusClosed, balance.Total().IsZero()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) validate(req Request) error {
	if strings.TrimSpace(req.ExternalID) == "" {
		return &ValidationError{Field: "external_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return &ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}
	if len(req.Currency) != 3 {
		return &ValidationError{Field: "currency", Reason: "must be a 3-letter ISO 4217 code"}
	}
	if !req.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.FeeAmount.IsNegative() {
		return &ValidationError{Field: "fee_amount", Reason: "must not be negative"}
	}
	if req.FeeAmount.Cmp(req.Amount) >= 0 {
		return &ValidationError{Field: "fee_amount", Reason: "must be strictly less than amount"}
	}
	if req.SourceAccountID == req.DestAccountID {
		return &ValidationError{Field: "destination_account_id", Reason: "must differ from source"}
	}
	return nil
}

func (e *Engine) buildExistingResult(ctx context.Context, tx *Record) (*Result, error) {
	entries, err := e.ledgerStore.GetEntriesByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	var debit, credit *ledger.LedgerEntry
	for _, entry := range entries {
		switch entry.EntryType {
		case ledger.EntryDebit:
			debit = entry
		case ledger.EntryCredit:
			if credit == nil {
				credit = entry
			}
		}
	}
	if debit == nil || credit == nil {
		return nil, ErrNotFound
	}
	sourceBalance, err := e.ledgerStore.GetOrCreateBalance(ctx, tx.SourceAccountID, tx.Currency)
	if err != nil {
		return nil, err
	}
	destBalance, err := e.ledgerStore.GetOrCreateBalance(ctx, tx.DestinationAccountID, tx.Currency)
	if err != nil {
		return nil, err
	}
	return &Result{
		Transaction:   *tx,
		DebitEntry:    *debit,
		CreditEntry:   *credit,
		SourceBalance: sourceBalance,
		DestBalance:   destBalance,
	}, nil
}

func (e *Engine) publishSettled(ctx context.Context, tx *Record, net money.Amount) {
	var batchID string
	if tx.SettlementBatchID != nil {
		batchID = *tx.SettlementBatchID
	}
	_ = e.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.TransactionSettled,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload: events.TransactionSettledPayload{
			TransactionID: tx.ID,
			ExternalID:    tx.ExternalID,
			Type:          string(tx.Type),
			Status:        string(tx.Status),
			Source:        tx.SourceAccountID,
			Destination:   tx.DestinationAccountID,
			Amount:        tx.Amount.String(),
			Currency:      tx.Currency,
			Fee:           tx.FeeAmount.String(),
			Net:           net.String(),
			BatchID:       batchID,
		},
	})
}

func (e *Engine) publishReversed(ctx context.Context, reversalTx *Record, originalID string, amount money.Amount) {
	_ = e.publisher.Publish(ctx, events.Envelope{
		EventID:   idgen.WithPrefix("evt_"),
		EventType: events.TransactionReversed,
		Timestamp: time.Now(),
		Source:    "settlement-engine",
		Payload: events.TransactionReversedPayload{
			TransactionID:         reversalTx.ID,
			OriginalTransactionID: originalID,
			Amount:                amount.String(),
			Currency:              reversalTx.Currency,
		},
	})
}

func mapAccountErr(err error) error {
	if err == account.ErrNotFound {
		return ErrNotFound
	}
	return err
}

// Package batch implements the settlement batch lifecycle: the
// pending→processing→completed/failed state machine, the settlement
// window cut-off policy, and the service that assigns settled
// transactions to batches and triggers their terminal processing.
package batch

import (
	"errors"
	"time"

	"github.com/settlekit/settlement-engine/internal/money"
)

// Errors
var (
	ErrNotFound            = errors.New("batch: not found")
	ErrInvalidTransition   = errors.New("batch: invalid status transition")
	ErrBatchNotOpen        = errors.New("batch: not accepting transactions")
	ErrCutOffInPast        = errors.New("batch: cut_off_time must be in the future")
	ErrOpenBatchExists     = errors.New("batch: an open batch already exists for this date and currency")
)

// Status is a settlement batch's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// validTransitions enumerates every legal status move: Pending can
// move to Processing or Failed, Processing can move to Completed or
// Failed, Failed can be retried back to Pending, and Completed is
// terminal.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:     {StatusPending: true},
	StatusCompleted:  {},
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

// WindowType names a settlement cadence.
type WindowType string

const (
	WindowRealTime   WindowType = "real_time"
	WindowMicroBatch WindowType = "micro_batch"
	WindowHourly     WindowType = "hourly"
	WindowDaily      WindowType = "daily"
)

// Duration returns the nominal window length for w.
func (w WindowType) Duration() time.Duration {
	switch w {
	case WindowRealTime:
		return 0
	case WindowMicroBatch:
		return 5 * time.Minute
	case WindowHourly:
		return time.Hour
	case WindowDaily:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ScheduleExpression returns a cron-style string describing when
// batches of this window type roll over. This is informational only;
// nothing schedules off the literal string, CutOffFor is authoritative.
func (w WindowType) ScheduleExpression() string {
	switch w {
	case WindowRealTime:
		return "* * * * * *"
	case WindowMicroBatch:
		return "*/5 * * * *"
	case WindowHourly:
		return "0 * * * *"
	case WindowDaily:
		return "59 23 * * *"
	default:
		return "59 23 * * *"
	}
}

// DailyCutOff configures the wall-clock cut-off used by WindowDaily.
type DailyCutOff struct {
	Hour, Minute, Second int
}

// CutOffFor computes the next cut-off time for a window type starting
// from now. RealTime and MicroBatch/Hourly windows round forward from
// now; Daily rolls to the following day once the configured cutoff
// has already passed today.
func CutOffFor(w WindowType, now time.Time, daily DailyCutOff) time.Time {
	switch w {
	case WindowRealTime:
		return now.Add(time.Minute)
	case WindowMicroBatch:
		return now.Add(5 * time.Minute)
	case WindowHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case WindowDaily:
		cutoff := time.Date(now.Year(), now.Month(), now.Day(), daily.Hour, daily.Minute, daily.Second, 0, now.Location())
		if !cutoff.After(now) {
			cutoff = cutoff.AddDate(0, 0, 1)
		}
		return cutoff
	default:
		return now.Add(24 * time.Hour)
	}
}

// SettlementBatch groups settled transactions for batched netting and
// release, closing at CutOffTime and carrying forward running totals
// as transactions are assigned.
type SettlementBatch struct {
	ID               string
	Status           Status
	SettlementDate   time.Time
	Currency         string
	CutOffTime       time.Time
	TransactionCount int
	GrossAmount      money.Amount
	NetAmount        money.Amount
	FeeAmount        money.Amount
	Metadata         map[string]string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// CanAcceptTransaction reports whether the batch will still take new
// assignments: only Pending batches before their cut-off.
func (b SettlementBatch) CanAcceptTransaction(now time.Time) bool {
	return b.Status == StatusPending && now.Before(b.CutOffTime)
}

// ProcessingError records one transaction's failure during
// TriggerProcessing.
type ProcessingError struct {
	TransactionID string
	ErrorCode     string
	ErrorMessage  string
}

// ProcessingResult is returned by TriggerProcessing. A batch with
// some failing and some succeeding transactions still reaches
// StatusCompleted — Errors records what happened without blocking
// the batch's terminal state.
type ProcessingResult struct {
	BatchID               string
	Status                Status
	TotalTransactions     int
	SuccessfulTransactions int
	FailedTransactions    int
	GrossAmount           money.Amount
	NetAmount             money.Amount
	FeeAmount             money.Amount
	ProcessingTimeMs      int64
	Errors                []ProcessingError
}

package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()
	assert.True(t, CanTransition(StatusPending, StatusProcessing))
	assert.True(t, CanTransition(StatusPending, StatusFailed))
	assert.True(t, CanTransition(StatusProcessing, StatusCompleted))
	assert.True(t, CanTransition(StatusProcessing, StatusFailed))
	assert.True(t, CanTransition(StatusFailed, StatusPending))

	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusPending))
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusPending, StatusPending))
}

func TestCutOffForRealTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got := CutOffFor(WindowRealTime, now, DailyCutOff{})
	assert.Equal(t, now.Add(time.Minute), got)
}

func TestCutOffForMicroBatch(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	got := CutOffFor(WindowMicroBatch, now, DailyCutOff{})
	assert.Equal(t, now.Add(5*time.Minute), got)
}

func TestCutOffForHourly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 37, 12, 0, time.UTC)
	got := CutOffFor(WindowHourly, now, DailyCutOff{})
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), got)
}

func TestCutOffForDailyBeforeCutoff(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	daily := DailyCutOff{Hour: 23, Minute: 59, Second: 59}
	got := CutOffFor(WindowDaily, now, daily)
	assert.Equal(t, time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC), got)
}

func TestCutOffForDailyAfterCutoffRollsToNextDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	daily := DailyCutOff{Hour: 23, Minute: 59, Second: 59}
	got := CutOffFor(WindowDaily, now, daily)
	assert.Equal(t, time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC), got)
}

func TestCanAcceptTransaction(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := SettlementBatch{Status: StatusPending, CutOffTime: now.Add(time.Hour)}
	assert.True(t, b.CanAcceptTransaction(now))

	b.Status = StatusProcessing
	assert.False(t, b.CanAcceptTransaction(now))

	b.Status = StatusPending
	b.CutOffTime = now.Add(-time.Minute)
	assert.False(t, b.CanAcceptTransaction(now))
}

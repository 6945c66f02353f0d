package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/settlekit/settlement-engine/internal/account"
	"github.com/settlekit/settlement-engine/internal/events"
	"github.com/settlekit/settlement-engine/internal/ledger"
	"github.com/settlekit/settlement-engine/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, account.Store, ledger.Store) {
	t.Helper()
	accounts := account.NewMemoryStore()
	ledgerStore := ledger.NewMemoryStore()
	txStore := NewMemoryStore()
	engine := New(txStore, ledgerStore, accounts, events.NoopPublisher{}, nil)
	return engine, accounts, ledgerStore
}

func seedAccount(t *testing.T, store account.Store, id string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &account.Account{
		ID: id, ExternalID: id + "-ext", Name: id, Type: account.TypeAsset,
		Status: account.StatusActive, Currency: "USD",
	}))
}

func fundAccount(t *testing.T, store ledger.Store, id, currency, amount string) {
	t.Helper()
	_, err := store.CreditConditional(context.Background(), id, currency, money.MustParse(amount))
	require.NoError(t, err)
}

func TestExecuteSinglePayment(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	result, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-1",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("100"),
		Currency:        "USD",
		FeeAmount:       money.Zero,
		IdempotencyKey:  "idem-1",
	})
	require.NoError(t, err)
	assert.False(t, result.IdempotentReplay)
	assert.Equal(t, StatusSettled, result.Transaction.Status)
	assert.Equal(t, "400.00000000", result.SourceBalance.Available.String())
	assert.Equal(t, "100.00000000", result.DestBalance.Available.String())
	assert.Equal(t, ledger.EntryDebit, result.DebitEntry.EntryType)
	assert.Equal(t, ledger.EntryCredit, result.CreditEntry.EntryType)
}

func TestExecuteIdempotentReplay(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	req := Request{
		ExternalID:      "ext-2",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("50"),
		Currency:        "USD",
		IdempotencyKey:  "idem-2",
	}

	first, err := engine.Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.IdempotentReplay)

	second, err := engine.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.IdempotentReplay)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	bal, err := ledgerStore.GetOrCreateBalance(ctx, "acct_src", "USD")
	require.NoError(t, err)
	assert.Equal(t, "450.00000000", bal.Available.String())
}

func TestExecuteInsufficientFunds(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "10")

	_, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-3",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("100"),
		Currency:        "USD",
		IdempotencyKey:  "idem-3",
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestExecuteRejectsInactiveAccount(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	require.NoError(t, accounts.UpdateStatus(ctx, "acct_dst", account.StatusFrozen, true))
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	_, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-4",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("10"),
		Currency:        "USD",
		IdempotencyKey:  "idem-4",
	})
	assert.ErrorIs(t, err, ErrAccountNotOperational)
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	_, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-5",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_src",
		Amount:          money.MustParse("10"),
		Currency:        "USD",
		IdempotencyKey:  "idem-5",
	})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "destination_account_id", valErr.Field)
}

func TestReverseSettledPayment(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	original, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-6",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("100"),
		Currency:        "USD",
		IdempotencyKey:  "idem-6",
	})
	require.NoError(t, err)

	reason := "customer requested refund"
	reversal, err := engine.Reverse(ctx, ReversalRequest{
		TransactionID:  original.Transaction.ID,
		IdempotencyKey: "idem-6-reverse",
		Reason:         &reason,
	})
	require.NoError(t, err)
	assert.Equal(t, "acct_dst", reversal.Transaction.SourceAccountID)
	assert.Equal(t, "acct_src", reversal.Transaction.DestinationAccountID)

	srcBal, err := ledgerStore.GetOrCreateBalance(ctx, "acct_src", "USD")
	require.NoError(t, err)
	assert.Equal(t, "500.00000000", srcBal.Available.String())

	reversedOriginal, err := NewMemoryStoreSnapshot(ctx, engine, original.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReversed, reversedOriginal.Status)
}

func TestReverseIdempotentReplay(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	original, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-7",
		Type:            TypeTransfer,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("25"),
		Currency:        "USD",
		IdempotencyKey:  "idem-7",
	})
	require.NoError(t, err)

	req := ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "idem-7-reverse"}
	first, err := engine.Reverse(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.IdempotentReplay)

	second, err := engine.Reverse(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.IdempotentReplay)
}

func TestReverseRejectsNonReversibleType(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	original, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-8",
		Type:            TypeFee,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("5"),
		Currency:        "USD",
		IdempotencyKey:  "idem-8",
	})
	require.NoError(t, err)

	_, err = engine.Reverse(ctx, ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "idem-8-reverse"})
	assert.ErrorIs(t, err, ErrNotReversible)
}

// NewMemoryStoreSnapshot fetches a transaction's current record
// through the engine's own store, avoiding a second store handle in
// tests that only need to assert on post-reversal state.
func NewMemoryStoreSnapshot(ctx context.Context, e *Engine, id string) (*Record, error) {
	return e.txStore.GetByID(ctx, id)
}

func TestCloseAccountRejectsNonZeroBalance(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	fundAccount(t, ledgerStore, "acct_src", "USD", "50")

	err := engine.CloseAccount(ctx, "acct_src")
	assert.ErrorIs(t, err, account.ErrNonZeroBalance)

	acct, err := accounts.Get(ctx, "acct_src")
	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, acct.Status)
}

func TestCloseAccountSucceedsWhenBalanceIsZero(t *testing.T) {
	t.Parallel()
	engine, accounts, _ := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")

	require.NoError(t, engine.CloseAccount(ctx, "acct_src"))

	acct, err := accounts.Get(ctx, "acct_src")
	require.NoError(t, err)
	assert.Equal(t, account.StatusClosed, acct.Status)
}

func TestEffectiveDateDefaultsToNow(t *testing.T) {
	t.Parallel()
	engine, accounts, ledgerStore := newTestEngine(t)
	ctx := context.Background()

	seedAccount(t, accounts, "acct_src")
	seedAccount(t, accounts, "acct_dst")
	fundAccount(t, ledgerStore, "acct_src", "USD", "500")

	before := time.Now().Add(-time.Second)
	result, err := engine.Execute(ctx, Request{
		ExternalID:      "ext-9",
		Type:            TypePayment,
		SourceAccountID: "acct_src",
		DestAccountID:   "acct_dst",
		Amount:          money.MustParse("1"),
		Currency:        "USD",
		IdempotencyKey:  "idem-9",
	})
	require.NoError(t, err)
	assert.True(t, result.DebitEntry.EffectiveDate.After(before))
}

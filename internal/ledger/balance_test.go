package ledger

import (
	"testing"

	"github.com/settlekit/settlement-engine/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditDebit(t *testing.T) {
	t.Parallel()

	b := ZeroBalance("acct_1", "USD")
	b = Credit(b, money.MustParse("100"))
	assert.Equal(t, "100.00000000", b.Available.String())
	assert.EqualValues(t, 1, b.Version)

	b, err := Debit(b, money.MustParse("40"))
	require.NoError(t, err)
	assert.Equal(t, "60.00000000", b.Available.String())
	assert.EqualValues(t, 2, b.Version)

	_, err = Debit(b, money.MustParse("1000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestReserveAndRelease(t *testing.T) {
	t.Parallel()

	b := ZeroBalance("acct_1", "USD")
	b = Credit(b, money.MustParse("100"))

	b, err := Reserve(b, money.MustParse("30"))
	require.NoError(t, err)
	assert.Equal(t, "30.00000000", b.Reserved.String())
	assert.Equal(t, "70.00000000", b.Usable().String())

	_, err = Reserve(b, money.MustParse("1000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	b = ReleaseReservation(b, money.MustParse("1000"))
	assert.True(t, b.Reserved.IsZero())
	assert.Equal(t, "100.00000000", b.Usable().String())
}

func TestMoveToPendingAndSettle(t *testing.T) {
	t.Parallel()

	b := ZeroBalance("acct_1", "USD")
	b = Credit(b, money.MustParse("100"))

	b, err := MoveToPending(b, money.MustParse("40"))
	require.NoError(t, err)
	assert.Equal(t, "60.00000000", b.Available.String())
	assert.Equal(t, "40.00000000", b.Pending.String())

	b = SettlePending(b, money.MustParse("1000"))
	assert.True(t, b.Pending.IsZero())
}

func TestTotalAndUsable(t *testing.T) {
	t.Parallel()

	b := AccountBalance{
		Available: money.MustParse("50"),
		Pending:   money.MustParse("20"),
		Reserved:  money.MustParse("10"),
	}
	assert.Equal(t, "80.00000000", b.Total().String())
	assert.Equal(t, "40.00000000", b.Usable().String())
}

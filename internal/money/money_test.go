package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	t.Parallel()

	c, err := ParseCurrency("USD")
	require.NoError(t, err)
	assert.Equal(t, Currency("USD"), c)

	_, err = ParseCurrency("usd")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = ParseCurrency("US")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	_, err = ParseCurrency("")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", "0.00000000"},
		{"1", "1.00000000"},
		{"1.5", "1.50000000"},
		{"123456789012345678.12345678", "123456789012345678.12345678"},
		{"-4.2", "-4.20000000"},
		{"0.000000001", "0.00000000"},
	}
	for _, c := range cases {
		a, err := Parse(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, a.String(), c.in)
	}

	_, err := Parse("not-a-number")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestArithmetic(t *testing.T) {
	t.Parallel()

	a := MustParse("10.00000000")
	b := MustParse("3.33333333")

	assert.Equal(t, "13.33333333", a.Add(b).String())
	assert.Equal(t, "6.66666667", a.Sub(b).String())
	assert.True(t, a.Cmp(b) > 0)
	assert.True(t, b.Cmp(a) < 0)
	assert.Equal(t, 0, a.Cmp(a))

	assert.True(t, Zero.IsZero())
	assert.False(t, a.IsZero())
	assert.True(t, a.IsPositive())
	assert.True(t, a.Neg().IsNegative())
	assert.Equal(t, a, a.Neg().Abs())
}

func TestMul(t *testing.T) {
	t.Parallel()

	a := MustParse("100.00000000")
	fee := MustParse("0.025")
	assert.Equal(t, "2.50000000", a.Mul(fee).String())
}

func TestDecimalRatio(t *testing.T) {
	t.Parallel()

	gross := MustParse("1000.00000000")
	net := MustParse("250.00000000")
	ratio := gross.DecimalRatio(net)
	// gross/net = 4
	assert.Equal(t, "4", ratio.String())

	assert.True(t, Zero.DecimalRatio(Zero).IsZero())
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	a := MustParse("42.12345678")
	b, err := a.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"42.12345678"`, string(b))

	var out Amount
	require.NoError(t, out.UnmarshalJSON(b))
	assert.Equal(t, a, out)
}

func TestScanValue(t *testing.T) {
	t.Parallel()

	var a Amount
	require.NoError(t, a.Scan("19.5"))
	assert.Equal(t, "19.50000000", a.String())

	require.NoError(t, a.Scan([]byte("3.14159265")))
	assert.Equal(t, "3.14159265", a.String())

	require.NoError(t, a.Scan(nil))
	assert.True(t, a.IsZero())

	v, err := MustParse("7.7").Value()
	require.NoError(t, err)
	assert.Equal(t, "7.70000000", v)
}

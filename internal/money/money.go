// Package money provides fixed-point decimal arithmetic for settlement
// amounts. Amounts are currency-tagged and never touch float64; the
// underlying representation is shopspring/decimal, rounded to Scale
// fractional digits at every boundary (parse, arithmetic result,
// string output).
package money

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Amount.
// Chosen to satisfy 18+ integer / 8 fractional digit precision;
// decimal.Decimal is arbitrary-precision so the integer side has no
// practical ceiling.
const Scale = 8

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ErrInvalidCurrency is returned when a currency code fails the
// three-letter upper-case check.
var ErrInvalidCurrency = errors.New("money: invalid currency code")

// ErrInvalidAmount is returned when a string fails to parse as a
// decimal amount.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Currency is a validated ISO-4217-shaped three-letter code.
type Currency string

// ParseCurrency validates and returns a Currency.
func ParseCurrency(s string) (Currency, error) {
	if !currencyPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return Currency(s), nil
}

// String implements fmt.Stringer.
func (c Currency) String() string { return string(c) }

// Amount is a fixed-point decimal value scaled to Scale fractional
// digits. The zero value is a valid representation of zero.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// Parse converts a decimal string (e.g. "1.50") into an Amount,
// rejecting malformed input. Unlike usdc.Parse, negative amounts are
// accepted here since ledger arithmetic needs signed deltas; callers
// that must reject negatives (e.g. request amounts) check
// IsNegative() themselves.
func Parse(s string) (Amount, error) {
	if s == "" {
		return Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{d: d.Round(Scale)}, nil
}

// MustParse parses s and panics on error. Intended for constants and
// tests, never for request-path input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt builds an Amount from an integer number of whole units.
func FromInt(v int64) Amount {
	return Amount{d: decimal.NewFromInt(v)}
}

// String renders the amount with exactly Scale fractional digits.
func (a Amount) String() string {
	return a.d.StringFixed(Scale)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d).Round(Scale)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d).Round(Scale)}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{d: a.d.Neg()}
}

// Mul returns a * b, rounded to Scale. Used for fee math and
// percentage calculations (e.g. netting efficiency), never for
// splitting a whole amount across arbitrary shares.
func (a Amount) Mul(b Amount) Amount {
	return Amount{d: a.d.Mul(b.d).Round(Scale)}
}

// MulInt64 returns a * n.
func (a Amount) MulInt64(n int64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(n)).Round(Scale)}
}

// Cmp compares a to b: -1, 0, or 1.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a.d.Sign() > 0 }

// IsNegative reports whether the amount is strictly less than zero.
func (a Amount) IsNegative() bool { return a.d.Sign() < 0 }

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	return Amount{d: a.d.Abs()}
}

// DecimalRatio returns a / b as an exact decimal.Decimal, division by
// zero returns decimal.Zero. Used internally by percentage math that
// needs more than Scale digits of intermediate precision before a
// final rounding step (e.g. netting efficiency).
func (a Amount) DecimalRatio(b Amount) decimal.Decimal {
	if b.d.IsZero() {
		return decimal.Zero
	}
	return a.d.DivRound(b.d, Scale+2)
}

// Decimal exposes the underlying decimal.Decimal for callers (e.g.
// database/sql scan/value adapters) that need direct access.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// FromDecimal wraps a decimal.Decimal as an Amount, rounding to Scale.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Scale)}
}

// Value implements database/sql/driver.Valuer, storing the amount as
// its canonical decimal string for NUMERIC(38,8) columns.
func (a Amount) Value() (interface{}, error) {
	return a.d.Round(Scale).String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		a.d = decimal.Zero
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		a.d = d.Round(Scale)
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		a.d = d.Round(Scale)
		return nil
	case float64:
		a.d = decimal.NewFromFloat(v).Round(Scale)
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
}

// MarshalJSON renders the amount as a quoted decimal string, avoiding
// the float round-tripping that a bare JSON number would invite.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

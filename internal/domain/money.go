package domain

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits every Money value carries.
const MoneyScale = 2

// Money is an exact decimal amount with a fixed scale of two fractional digits.
// The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// MaxIntegerDigits matches the NUMERIC(18,2) ledger columns: every amount
// and balance stays strictly below 10^16.
const MaxIntegerDigits = 16

// Zero is 0.00.
var Zero = Money{}

var moneyBound = decimal.New(1, MaxIntegerDigits)

// newMoney checks magnitude from the coefficient length and exponent before
// any rescaling, so "1e999999999" is rejected without being expanded.
func newMoney(d decimal.Decimal, raw string) (Money, error) {
	if d.IsZero() {
		return Zero, nil
	}
	digits := int64(len(new(big.Int).Abs(d.Coefficient()).String()))
	exp := int64(d.Exponent())
	if digits+exp > MaxIntegerDigits {
		return Money{}, &ErrInvalidAmount{Amount: raw, Reason: fmt.Sprintf("must be below 10^%d", MaxIntegerDigits)}
	}
	if exp < -(MoneyScale+digits) || (-exp > MoneyScale && !d.Equal(d.Truncate(MoneyScale))) {
		return Money{}, &ErrInvalidAmount{Amount: raw, Reason: fmt.Sprintf("more than %d fractional digits", MoneyScale)}
	}
	return Money{d: d.Truncate(MoneyScale)}, nil
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ErrInvalidAmount{Amount: s, Reason: "not a decimal number"}
	}
	return newMoney(d, s)
}

// MustParseMoney is ParseMoney for literals known to be valid. It panics otherwise.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromCents builds a Money from an integer number of cents.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -MoneyScale)}
}

// MoneyFromFloat converts a float literal. NaN, infinities and sub-cent
// precision are rejected.
func MoneyFromFloat(f float64) (Money, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Money{}, &ErrInvalidAmount{Amount: fmt.Sprint(f), Reason: "not a finite number"}
	}
	return newMoney(decimal.NewFromFloat(f), fmt.Sprint(f))
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

// InRange reports whether |m| < 10^MaxIntegerDigits, the largest value the
// ledger can store.
func (m Money) InRange() bool { return m.d.Abs().LessThan(moneyBound) }

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.Cmp(o) >= 0 {
		return m
	}
	return o
}

// MulRate multiplies by a decimal rate and rounds half-up back to cents.
// This is the only operation that rounds.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money{d: m.d.Mul(rate).Round(MoneyScale)}
}

// Cents returns the amount as an integer number of cents.
func (m Money) Cents() int64 { return m.d.Shift(MoneyScale).IntPart() }

// Decimal exposes the underlying value for storage drivers.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) String() string { return m.d.StringFixed(MoneyScale) }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MoneyPtr is a convenience for optional limits.
func MoneyPtr(m Money) *Money { return &m }

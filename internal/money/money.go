// Package money provides the fixed-point monetary value type used across
// the auction engine. Amounts are integer minor units (cents) plus a
// currency tag — never float64 for money. Display and rate math go
// through shopspring/decimal.
package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidMoney is returned for negative amounts or values that do
	// not land on a whole minor unit.
	ErrInvalidMoney = errors.New("money: invalid amount")

	// ErrCurrencyMismatch is returned when two values in different
	// currencies are combined or compared.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

// minorScale is the number of decimal places per major unit. All
// supported currencies use two (cents).
const minorScale int32 = 2

// DefaultCurrency is assumed when a request does not specify one.
const DefaultCurrency = "LKR"

// Money is an exact monetary value: an integer count of minor units in
// one currency. The zero value is 0 units of the empty currency; use
// New or FromDecimal for validated construction.
type Money struct {
	amount   int64
	currency string
}

// New constructs a Money value from minor units. Negative amounts are
// rejected — the engine never deals in negative money.
func New(minorUnits int64, currency string) (Money, error) {
	if minorUnits < 0 {
		return Money{}, fmt.Errorf("%w: negative minor units %d", ErrInvalidMoney, minorUnits)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{amount: minorUnits, currency: currency}, nil
}

// MustNew is New for constants and tests; panics on invalid input.
func MustNew(minorUnits int64, currency string) Money {
	m, err := New(minorUnits, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal converts a major-unit decimal ("150.00") into Money.
// Values with sub-minor-unit precision are rejected rather than
// silently rounded.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	shifted := d.Shift(minorScale)
	if !shifted.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s has sub-minor-unit precision", ErrInvalidMoney, d)
	}
	return New(shifted.IntPart(), currency)
}

// MinorUnits returns the raw integer amount.
func (m Money) MinorUnits() int64 { return m.amount }

// Currency returns the currency tag.
func (m Money) Currency() string { return m.currency }

// Decimal returns the major-unit decimal representation, e.g. 150.00.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -minorScale)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount == 0 }

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Sub returns m - other. Fails on currency mismatch or a negative result.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.amount > m.amount {
		return Money{}, fmt.Errorf("%w: subtraction result negative", ErrInvalidMoney)
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// Cmp compares amounts: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	}
	return 0, nil
}

// GreaterThan reports m > other; false on currency mismatch.
func (m Money) GreaterThan(other Money) bool {
	c, err := m.Cmp(other)
	return err == nil && c > 0
}

// GreaterThanOrEqual reports m >= other; false on currency mismatch.
func (m Money) GreaterThanOrEqual(other Money) bool {
	c, err := m.Cmp(other)
	return err == nil && c >= 0
}

// Equal reports exact equality of amount and currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

// MulRound multiplies by a decimal rate and rounds half-up to the
// nearest minor unit.
func (m Money) MulRound(rate decimal.Decimal) Money {
	product := decimal.New(m.amount, 0).Mul(rate).Round(0)
	return Money{amount: product.IntPart(), currency: m.currency}
}

// Split divides the amount by a rate into (portion, remainder) such
// that portion + remainder == m exactly. The portion is rounded
// half-up; the remainder absorbs any rounding drift.
func (m Money) Split(rate decimal.Decimal) (portion, remainder Money) {
	portion = m.MulRound(rate)
	remainder = Money{amount: m.amount - portion.amount, currency: m.currency}
	return portion, remainder
}

// String renders the value as "150.00 LKR".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(minorScale), m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

// moneyJSON is the wire shape: major-unit decimal string plus currency.
type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON encodes as {"amount":"150.00","currency":"LKR"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Decimal(), Currency: m.currency})
}

// UnmarshalJSON decodes and validates the wire shape.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromDecimal(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

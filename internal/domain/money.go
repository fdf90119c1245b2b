package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

// Money is an amount in the currency's minor unit. Values are immutable;
// every operation returns a new Money.
type Money struct {
	Amount   int64
	Currency string
}

// CurrencyMismatchError is the panic value raised when arithmetic mixes
// currencies. Callers that accept untrusted input should check with
// SameCurrency first.
type CurrencyMismatchError struct {
	Left, Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

var minorUnitExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

func Zero(currency string) Money { return NewMoney(0, currency) }

func USD(cents int64) Money { return NewMoney(cents, "USD") }

// MoneyFromDecimal converts a major-unit amount such as 30.25 into minor
// units. Amounts with more precision than the currency allows are rejected
// rather than rounded.
func MoneyFromDecimal(major decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("MoneyFromDecimal: currency %q: %w", currency, ErrInvalidAmount)
	}
	minor := major.Shift(exponentFor(currency))
	if !minor.Equal(minor.Truncate(0)) {
		return Money{}, fmt.Errorf("MoneyFromDecimal: %s has fractional minor units: %w", major, ErrInvalidAmount)
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return Money{}, fmt.Errorf("MoneyFromDecimal: %s out of range: %w", major, ErrInvalidAmount)
	}
	return NewMoney(minor.IntPart(), currency), nil
}

func ParseMoney(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimPrefix(s, "$")))
	if err != nil {
		return Money{}, fmt.Errorf("ParseMoney: %q: %w", s, ErrInvalidAmount)
	}
	return MoneyFromDecimal(d, currency)
}

func exponentFor(currency string) int32 {
	if exp, ok := minorUnitExponent[currency]; ok {
		return exp
	}
	return 2
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -exponentFor(m.Currency))
}

func (m Money) String() string {
	return m.Decimal().StringFixed(exponentFor(m.Currency)) + " " + m.Currency
}

func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

func (m Money) Subtract(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) int {
	m.mustMatch(other)
	switch {
	case m.Amount < other.Amount:
		return -1
	case m.Amount > other.Amount:
		return 1
	default:
		return 0
	}
}

func (m Money) Min(other Money) Money {
	if m.Compare(other) <= 0 {
		return m
	}
	return other
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

// SameCurrency is the checked form of the currency invariant.
func SameCurrency(a, b Money) error {
	if a.Currency != b.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	return nil
}

func (m Money) mustMatch(other Money) {
	if m.Currency != other.Currency {
		panic(&CurrencyMismatchError{Left: m.Currency, Right: other.Currency})
	}
}

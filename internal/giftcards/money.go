package giftcards

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents. All ledger arithmetic happens on whole cents
// so balances stay exact at two decimal places.
type Money int64

// MaxBalance is the largest amount a card can hold, the ceiling of the
// NUMERIC(12,2) balance columns
const MaxBalance Money = 999_999_999_999

var errInvalidMoney = errors.New("invalid money amount")

// MoneyFromFloat rounds f to the nearest cent. Values outside the int64
// range saturate instead of wrapping.
func MoneyFromFloat(f float64) Money {
	cents := math.Round(f * 100)
	switch {
	case math.IsNaN(cents):
		return 0
	case cents >= math.MaxInt64:
		return math.MaxInt64
	case cents <= math.MinInt64:
		return math.MinInt64
	}
	return Money(cents)
}

// ParseMoney parses a decimal string with at most two fractional digits
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errInvalidMoney
	}

	negative := false
	if s[0] == '-' || s[0] == '+' {
		negative = s[0] == '-'
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", errInvalidMoney, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidMoney, s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidMoney, s)
	}
	if units > (math.MaxInt64-cents)/100 {
		return 0, fmt.Errorf("%w: %q overflows", errInvalidMoney, s)
	}

	m := Money(units*100 + cents)
	if negative {
		m = -m
	}
	return m, nil
}

// Cents returns the raw cent count
func (m Money) Cents() int64 {
	return int64(m)
}

// Float64 converts to a float for display and metrics only
func (m Money) Float64() float64 {
	return float64(m) / 100
}

// String formats with exactly two decimals
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a JSON number with two decimals
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" {
		return nil
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

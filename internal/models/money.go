package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Cents is an amount of money in hundredths of the currency unit.
type Cents int64

// ErrAmountRange is returned for amounts that do not fit in Cents.
var ErrAmountRange = errors.New("amount out of range")

// ParseFloat rounds a decimal amount half away from zero to cents. Amounts
// whose cents do not fit in an int64, NaN and infinities are rejected.
func ParseFloat(v float64) (Cents, error) {
	r := math.Round(v * 100)
	// float64(math.MaxInt64) is 2^63, the first value past the range
	if math.IsNaN(r) || r >= math.MaxInt64 || r <= math.MinInt64 {
		return 0, fmt.Errorf("%w: %v", ErrAmountRange, v)
	}
	return Cents(r), nil
}

// FromFloat is ParseFloat saturating at ±math.MaxInt64 cents. NaN maps to 0.
func FromFloat(v float64) Cents {
	c, err := ParseFloat(v)
	switch {
	case err == nil:
		return c
	case math.IsNaN(v):
		return 0
	case v < 0:
		return -math.MaxInt64
	default:
		return math.MaxInt64
	}
}

func (c Cents) Float() float64 {
	return float64(c) / 100
}

func (c Cents) Mul(n int64) Cents {
	return c * Cents(n)
}

// String renders the amount with two decimals, e.g. "12.50".
func (c Cents) String() string {
	sign, u := c.magnitude()
	return fmt.Sprintf("%s%d.%02d", sign, u/100, u%100)
}

// Dollars renders the amount as "$12.50".
func (c Cents) Dollars() string {
	sign, u := c.magnitude()
	return fmt.Sprintf("%s$%d.%02d", sign, u/100, u%100)
}

// magnitude splits off the sign; the uint64 holds -math.MinInt64 as well.
func (c Cents) magnitude() (string, uint64) {
	if c < 0 {
		return "-", uint64(-(c + 1)) + 1
	}
	return "", uint64(c)
}

// MarshalJSON encodes the amount as a decimal number.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cents) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	*c = FromFloat(f)
	return nil
}

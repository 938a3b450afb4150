package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits converts a decimal EUR amount to integer cents.
// Amounts with more than two fraction digits are rejected so nothing is
// silently rounded.
func MinorUnits(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", d.String())
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return shifted.IntPart(), nil
}

// FormatMinor renders integer cents as a two-decimal JSON number,
// e.g. 7550 -> 75.50.
func FormatMinor(minor int64) json.Number {
	return json.Number(decimal.New(minor, -2).StringFixed(2))
}

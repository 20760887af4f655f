// Package ledger splits shared expenses and simplifies the resulting debts.
//
// Two independent, pure operations live here:
//
//   - Allocate turns one expense and a split strategy into per-participant
//     paid/owed rows.
//   - Reduce turns per-participant aggregates for a group into a short,
//     deterministic list of debtor -> creditor payments.
//
// Money is held as decimal.Decimal at the API boundary and as int64 minor
// units (cents) while splitting, so every allocation sums to the expense total
// exactly.
package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places every amount is held at.
const MinorUnitPlaces = 2

// Tolerance is the smallest amount the reducer treats as a real balance.
var Tolerance = decimal.New(1, -MinorUnitPlaces)

var maxInt64 = new(big.Int).SetInt64(1<<63 - 1)

// ToMinor converts an amount to minor units. It reports false when the amount
// carries sub-cent precision or does not fit in an int64.
func ToMinor(d decimal.Decimal) (int64, bool) {
	scaled := d.Shift(MinorUnitPlaces)
	if !scaled.IsInteger() {
		return 0, false
	}
	bi := scaled.BigInt()
	if bi.CmpAbs(maxInt64) > 0 {
		return 0, false
	}
	return bi.Int64(), true
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitPlaces)
}

// RoundMoney rounds half away from zero to minor units.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// DisplayAmount formats d with at least MinorUnitPlaces decimals and keeps any
// finer digits, so a sub-cent discrepancy never renders as zero.
func DisplayAmount(d decimal.Decimal) string {
	places := int32(MinorUnitPlaces)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	return d.StringFixed(places)
}

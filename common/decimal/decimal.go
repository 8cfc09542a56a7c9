// Package decimal formats fixed point amounts such as wei balances.
package decimal

import (
	"fmt"
	"math/big"

	dec "github.com/shopspring/decimal"
)

var (
	// Ether is the precision of amounts denominated in wei.
	Ether = Precision(18)
	// Gwei is the precision of gas prices denominated in wei.
	Gwei = Precision(9)
)

// Precision creates precision constant required for decimal type. The
// exponent of the result is the number of decimals.
func Precision(digits int32) dec.Decimal {
	return dec.New(1, digits)
}

// scale shifts value by the decimals of precision without dividing, so no
// digit is lost to the division precision.
func scale(value *big.Int, precision dec.Decimal) dec.Decimal {
	return dec.NewFromBigInt(value, -precision.Exponent())
}

// String returns big.Int string representation as a number with fixed decimals
func String(value *big.Int, precision dec.Decimal) string {
	return scale(value, precision).String()
}

// Round returns value with fixed decimals, rounded to places digits.
func Round(value *big.Int, precision dec.Decimal, places int32) string {
	return scale(value, precision).StringFixed(places)
}

// New parses a decimal amount into its integer representation. Digits
// beyond the precision are rejected.
func New(amount string, precision dec.Decimal) (*big.Int, error) {
	d, err := dec.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	scaled := d.Mul(precision)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds precision", amount)
	}
	return scaled.BigInt(), nil
}

// MustNew New variant that panics on error
func MustNew(amount string, precision dec.Decimal) *big.Int {
	value, err := New(amount, precision)
	if err != nil {
		panic(err)
	}
	return value
}

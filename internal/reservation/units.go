package reservation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ToUnits converts a quantity to integer reservation units at the given
// precision (number of decimal places). Quantities finer than the precision
// are rejected rather than rounded.
func ToUnits(qty decimal.Decimal, precision int32) (int64, error) {
	scaled := qty.Shift(precision)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("quantity %s has more than %d decimal places", qty, precision)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64 >> 10)) {
		return 0, fmt.Errorf("quantity %s out of range", qty)
	}
	return scaled.IntPart(), nil
}

// FromUnits is the inverse of ToUnits.
func FromUnits(units int64, precision int32) decimal.Decimal {
	return decimal.NewFromInt(units).Shift(-precision)
}

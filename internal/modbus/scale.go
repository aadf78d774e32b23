package modbus

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultScale: registers carry the engineering value times 100.
const DefaultScale = 100

func scaleOf(scale float64) decimal.Decimal {
	if scale == 0 {
		return decimal.NewFromInt(DefaultScale)
	}
	return decimal.NewFromFloat(scale)
}

// Decode converts a raw register word into its engineering value (raw / scale).
// A zero scale means DefaultScale.
func Decode(raw uint16, scale float64) float64 {
	return decimal.NewFromInt(int64(raw)).Div(scaleOf(scale)).InexactFloat64()
}

// Encode is the inverse of Decode. It fails when value*scale is not an
// integer in register range.
func Encode(value float64, scale float64) (uint16, error) {
	d := decimal.NewFromFloat(value).Mul(scaleOf(scale))
	if !d.IsInteger() {
		return 0, fmt.Errorf("value %v not representable at scale %v", value, scale)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(0xFFFF)) {
		return 0, fmt.Errorf("value %v out of register range", value)
	}
	return uint16(d.IntPart()), nil
}

package climate

import (
	"database/sql"
	"math"
)

const mmPerInch = 25.4

// CToF converts Celsius to whole Fahrenheit, rounding half to even.
func CToF(c float64) int {
	return int(math.RoundToEven(c*9/5 + 32))
}

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 {
	return (f - 32) * 5 / 9
}

// MMToIn converts millimetres to inches rounded to two decimals.
func MMToIn(mm float64) float64 {
	return Round2(mm / mmPerInch)
}

// Round2 rounds half to even at two decimals.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// NullCToF converts an optional Celsius value.
func NullCToF(c sql.NullFloat64) *int {
	if !c.Valid {
		return nil
	}
	f := CToF(c.Float64)
	return &f
}

// NullMMToIn converts an optional millimetre value.
func NullMMToIn(mm sql.NullFloat64) sql.NullFloat64 {
	if !mm.Valid {
		return mm
	}
	return sql.NullFloat64{Float64: MMToIn(mm.Float64), Valid: true}
}

package core

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Exponent bounds of a decimal that still fits a float64, subnormals
// included. Anything outside overflows to Inf or underflows to 0.
const (
	minExponent = -350
	maxExponent = 310
)

// ParseNumber converts raw cell text to a decimal. ok is false when the text
// is empty or is not a finite number in float64 range.
func ParseNumber(s string) (d decimal.Decimal, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Zero, false
	}
	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := d.Exponent(); exp < minExponent || exp > maxExponent {
		return decimal.Zero, false
	}
	return d, true
}

// ParseNumberOrZero is ParseNumber with zero for anything that is not a
// number; malformed input is a valid cell state, not an error.
//
// Examples:
//
//	ParseNumberOrZero("10")    -> 10
//	ParseNumberOrZero(" 2.5 ") -> 2.5
//	ParseNumberOrZero("1e3")   -> 1000
//	ParseNumberOrZero("1e400") -> 0
//	ParseNumberOrZero("abc")   -> 0
//	ParseNumberOrZero("NaN")   -> 0
func ParseNumberOrZero(s string) decimal.Decimal {
	d, _ := ParseNumber(s)
	return d
}

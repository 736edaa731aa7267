// Package pricemath holds the fixed-point helpers shared by the oracle and
// vault engines. All amounts and rates are unsigned integers; rates are
// scaled by PricePrecision, fee and deviation bounds are basis points.
//
// Every conversion multiplies before dividing and truncates toward zero, so
// rounding behaves identically regardless of operand magnitude.
package pricemath

import (
	"errors"
	"math"
	"math/bits"
)

const (
	// PricePrecision scales rates: rate = USD per reserve unit * 1e6.
	PricePrecision = 1_000_000

	// BpsDenom is the basis-point denominator (10000 bps = 100%).
	BpsDenom = 10_000

	// MaxFeeBps caps buy/sell fees at 5%.
	MaxFeeBps = 500

	// MaxDeviationCeilingBps is the hard ceiling on any configurable
	// deviation bound (30%).
	MaxDeviationCeilingBps = 3000

	// DefaultMaxDeviationBps is the deviation bound applied when none is
	// configured (10%).
	DefaultMaxDeviationBps = 1000

	// DefaultMinUpdateIntervalSec is the default spacing between accepted
	// price updates.
	DefaultMinUpdateIntervalSec = 3600
)

// ErrOverflow is returned when a quotient does not fit in 64 bits.
var ErrOverflow = errors.New("pricemath: mul-div overflow")

// ErrDivByZero is returned for a zero denominator.
var ErrDivByZero = errors.New("pricemath: division by zero")

// MulDiv computes floor(a*b/den) with a 128-bit intermediate product, so the
// multiply never loses precision before the divide.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// FeeCut returns floor(amount*bps/10000), the fee retained from amount.
// bps must not exceed BpsDenom; the quotient then always fits.
func FeeCut(amount, bps uint64) uint64 {
	cut, _ := MulDiv(amount, bps, BpsDenom)
	return cut
}

// DeviationBps returns floor(|newRate-oldRate|*10000/oldRate), the relative
// move between two rates in basis points. A move too large to represent
// saturates to MaxUint64 so it fails any configured bound.
func DeviationBps(oldRate, newRate uint64) uint64 {
	if oldRate == 0 {
		return math.MaxUint64
	}
	diff := newRate - oldRate
	if newRate < oldRate {
		diff = oldRate - newRate
	}
	dev, err := MulDiv(diff, BpsDenom, oldRate)
	if err != nil {
		return math.MaxUint64
	}
	return dev
}

// Package utils provides shared numeric and identifier helpers used across
// the engine: decimal math not covered by shopspring/decimal itself,
// an incremental EMA, and ID generation for trades and signals.
package utils

import (
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateTradeID generates a unique trade identifier.
func GenerateTradeID() string {
	return "trd_" + uuid.NewString()
}

// GenerateSignalID generates a unique signal identifier.
func GenerateSignalID() string {
	return "sig_" + uuid.NewString()
}

// SqrtDecimal computes a square root via Newton's method to decimal
// precision. Returns zero for zero or negative input.
func SqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}

// PowDecimal raises base to a float exponent, round-tripping through
// float64. Used by playbook band formulas (e.g. VWAP Magnet's
// time-decay exponent) where sub-decimal precision loss is immaterial
// relative to the bars/ATR inputs already in play.
func PowDecimal(base decimal.Decimal, exponent float64) decimal.Decimal {
	b, _ := base.Float64()
	return decimal.NewFromFloat(math.Pow(b, exponent))
}

// EMA calculates exponential moving average.
type EMA struct {
	period     int
	multiplier decimal.Decimal
	current    decimal.Decimal
	count      int
}

// NewEMA creates a new EMA calculator.
func NewEMA(period int) *EMA {
	mult := decimal.NewFromFloat(2.0 / float64(period+1))
	return &EMA{
		period:     period,
		multiplier: mult,
	}
}

// Add adds a value and returns the current EMA.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	e.count++

	if e.count == 1 {
		e.current = value
		return e.current
	}

	e.current = value.Sub(e.current).Mul(e.multiplier).Add(e.current)
	return e.current
}

// Current returns the current EMA value.
func (e *EMA) Current() decimal.Decimal {
	return e.current
}

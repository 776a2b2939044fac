package core

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// FactorName is a member of the closed enumerated set of confluence
// factors spec.md §4.2 names.
type FactorName string

const (
	FactorRelativeVolume FactorName = "relative_volume"
	FactorPriceAction    FactorName = "price_action"
	FactorProfile        FactorName = "profile"
	FactorVWAP           FactorName = "vwap"
	FactorADX            FactorName = "adx"
)

// AllFactors enumerates the closed factor set in a stable order, used
// wherever factor snapshots are iterated deterministically.
var AllFactors = []FactorName{
	FactorRelativeVolume,
	FactorPriceAction,
	FactorProfile,
	FactorVWAP,
	FactorADX,
}

// Snapshot is the per-bar {factor_name -> activation} map spec.md §3
// defines. Activations are in [0, 1]; the map is produced fresh every bar
// and never persisted.
type Snapshot map[FactorName]decimal.Decimal

// Indicators bundles the read-only indicator-cell views the factor
// evaluator consumes. The event loop owns these instances; this struct is
// a view, not a copy, matching spec.md §5's read-only-view ownership rule.
type Indicators struct {
	RelVol *RelativeVolume
	VWAP   *SessionVWAP
	ADX    *ADX
	ATR    *ATR
}

// Evaluate derives the factor activation map for one direction from the
// current bar, the finalized OR, and the indicator cells (spec.md §4.2).
// Directions with opposite factor polarity (price action) are inverted for
// short before weighting, per spec.md's instruction.
func Evaluate(bar types.Bar, or *OpeningRange, ind Indicators, dir types.Direction) Snapshot {
	snap := make(Snapshot, len(AllFactors))

	// Relative volume: a volume spike is directionless confirmation.
	if ind.RelVol != nil && ind.RelVol.Spike {
		snap[FactorRelativeVolume] = decimal.NewFromInt(1)
	} else {
		snap[FactorRelativeVolume] = decimal.Zero
	}

	// Price action: close in the upper (long) or lower (short) half of
	// the bar's range signals directional conviction on the breakout bar.
	rng := bar.High.Sub(bar.Low)
	priceAction := decimal.Zero
	if rng.GreaterThan(decimal.Zero) {
		posInRange := bar.Close.Sub(bar.Low).Div(rng)
		if dir == types.DirectionShort {
			posInRange = decimal.NewFromInt(1).Sub(posInRange)
		}
		priceAction = posInRange
	}
	snap[FactorPriceAction] = priceAction

	// Profile: how cleanly the bar trades beyond the OR extreme on the
	// signal side, relative to the OR's own width.
	profile := decimal.Zero
	if or != nil && or.Finalized && or.Valid && !or.Width().IsZero() {
		var extension decimal.Decimal
		if dir == types.DirectionLong {
			extension = bar.High.Sub(or.RunningHigh)
		} else {
			extension = or.RunningLow.Sub(bar.Low)
		}
		if extension.IsNegative() {
			extension = decimal.Zero
		}
		ratio := extension.Div(or.Width())
		one := decimal.NewFromInt(1)
		if ratio.GreaterThan(one) {
			ratio = one
		}
		profile = ratio
	}
	snap[FactorProfile] = profile

	// VWAP: directional alignment of close relative to session VWAP.
	vwapFactor := decimal.Zero
	if ind.VWAP != nil && !ind.VWAP.Value().IsZero() {
		v := ind.VWAP.Value()
		if dir == types.DirectionLong && bar.Close.GreaterThan(v) {
			vwapFactor = decimal.NewFromInt(1)
		} else if dir == types.DirectionShort && bar.Close.LessThan(v) {
			vwapFactor = decimal.NewFromInt(1)
		}
	}
	snap[FactorVWAP] = vwapFactor

	// ADX: a clear (non-weak) trend supports breakout continuation.
	adxFactor := decimal.Zero
	if ind.ADX != nil && !ind.ADX.TrendWeak {
		adxFactor = decimal.NewFromInt(1)
	}
	snap[FactorADX] = adxFactor

	return snap
}

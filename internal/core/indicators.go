package core

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
	"github.com/orbconfluence/backtest-engine/pkg/utils"
)

// RelativeVolume is a ring of recent volumes with a rolling mean and a spike
// flag, spec.md §3's "Relative Volume" indicator cell. The ring is bounded
// by lookback, matching the memory discipline in spec.md §5.
type RelativeVolume struct {
	lookback  int
	ring      []decimal.Decimal
	sum       decimal.Decimal
	spikeMult decimal.Decimal

	Current decimal.Decimal // current bar volume / rolling mean, 0 until warm
	Spike   bool
}

// NewRelativeVolume constructs a cell with the given lookback window and
// spike multiplier (v/mean >= spikeMult triggers Spike).
func NewRelativeVolume(lookback int, spikeMult decimal.Decimal) *RelativeVolume {
	return &RelativeVolume{
		lookback:  lookback,
		ring:      make([]decimal.Decimal, 0, lookback),
		spikeMult: spikeMult,
	}
}

// Update folds in the latest bar volume, evicting the oldest sample once the
// ring is at capacity, then recomputes the ratio and spike flag.
func (rv *RelativeVolume) Update(volume decimal.Decimal) {
	if len(rv.ring) == rv.lookback {
		rv.sum = rv.sum.Sub(rv.ring[0])
		rv.ring = rv.ring[1:]
	}
	rv.ring = append(rv.ring, volume)
	rv.sum = rv.sum.Add(volume)

	mean := rv.sum.Div(decimal.NewFromInt(int64(len(rv.ring))))
	if mean.IsZero() {
		rv.Current = decimal.Zero
		rv.Spike = false
		return
	}
	rv.Current = volume.Div(mean)
	rv.Spike = rv.Current.GreaterThanOrEqual(rv.spikeMult)
}

// SessionVWAP accumulates (sum price*volume, sum volume) since session
// start, resetting at each new session (spec.md §3).
type SessionVWAP struct {
	sumPV decimal.Decimal
	sumV  decimal.Decimal

	// volume-weighted variance accumulator for playbooks (VWAP Magnet,
	// §4.6) that need a dynamic band; kept here because it shares the
	// same cumulative-sum lifecycle as VWAP itself.
	sumPV2 decimal.Decimal
}

// Reset clears accumulated state at session start.
func (v *SessionVWAP) Reset() {
	v.sumPV = decimal.Zero
	v.sumV = decimal.Zero
	v.sumPV2 = decimal.Zero
}

// Update folds in one bar's typical price and volume.
func (v *SessionVWAP) Update(typicalPrice, volume decimal.Decimal) {
	pv := typicalPrice.Mul(volume)
	v.sumPV = v.sumPV.Add(pv)
	v.sumV = v.sumV.Add(volume)
	v.sumPV2 = v.sumPV2.Add(typicalPrice.Mul(pv))
}

// Value returns sum(p*v)/sum(v), zero before any volume has accumulated.
func (v *SessionVWAP) Value() decimal.Decimal {
	if v.sumV.IsZero() {
		return decimal.Zero
	}
	return v.sumPV.Div(v.sumV)
}

// StdDev returns the volume-weighted standard deviation of price around
// VWAP, used by the VWAP Magnet playbook's dynamic band.
func (v *SessionVWAP) StdDev() decimal.Decimal {
	if v.sumV.IsZero() {
		return decimal.Zero
	}
	meanSq := v.sumPV2.Div(v.sumV)
	mean := v.Value()
	variance := meanSq.Sub(mean.Mul(mean))
	if variance.IsNegative() {
		variance = decimal.Zero
	}
	return utils.SqrtDecimal(variance)
}

// ADX is a Wilder-smoothed directional-movement indicator emitting a trend
// strength value and a trend_weak flag (spec.md §3).
type ADX struct {
	period       int
	threshold    decimal.Decimal
	prevHigh     decimal.Decimal
	prevLow      decimal.Decimal
	prevClose    decimal.Decimal
	haveBar      bool

	smoothedTR   decimal.Decimal
	smoothedPlus decimal.Decimal
	smoothedMinus decimal.Decimal
	dxEMA        *utils.EMA
	count        int

	Value     decimal.Decimal
	TrendWeak bool
}

// NewADX constructs an ADX cell with the given Wilder period and the
// threshold below which TrendWeak is set.
func NewADX(period int, weakThreshold decimal.Decimal) *ADX {
	return &ADX{
		period:    period,
		threshold: weakThreshold,
		dxEMA:     utils.NewEMA(period),
	}
}

// Update folds in the next bar's high/low/close.
func (a *ADX) Update(high, low, close decimal.Decimal) {
	if !a.haveBar {
		a.prevHigh, a.prevLow, a.prevClose = high, low, close
		a.haveBar = true
		return
	}

	upMove := high.Sub(a.prevHigh)
	downMove := a.prevLow.Sub(low)

	plusDM := decimal.Zero
	minusDM := decimal.Zero
	if upMove.GreaterThan(downMove) && upMove.GreaterThan(decimal.Zero) {
		plusDM = upMove
	}
	if downMove.GreaterThan(upMove) && downMove.GreaterThan(decimal.Zero) {
		minusDM = downMove
	}

	tr := types.Bar{High: high, Low: low, Close: close}.TrueRange(a.prevClose)

	n := decimal.NewFromInt(int64(a.period))
	if a.count == 0 {
		a.smoothedTR = tr
		a.smoothedPlus = plusDM
		a.smoothedMinus = minusDM
	} else {
		a.smoothedTR = a.smoothedTR.Sub(a.smoothedTR.Div(n)).Add(tr)
		a.smoothedPlus = a.smoothedPlus.Sub(a.smoothedPlus.Div(n)).Add(plusDM)
		a.smoothedMinus = a.smoothedMinus.Sub(a.smoothedMinus.Div(n)).Add(minusDM)
	}
	a.count++

	var plusDI, minusDI decimal.Decimal
	if !a.smoothedTR.IsZero() {
		plusDI = a.smoothedPlus.Div(a.smoothedTR).Mul(decimal.NewFromInt(100))
		minusDI = a.smoothedMinus.Div(a.smoothedTR).Mul(decimal.NewFromInt(100))
	}

	diSum := plusDI.Add(minusDI)
	dx := decimal.Zero
	if !diSum.IsZero() {
		dx = plusDI.Sub(minusDI).Abs().Div(diSum).Mul(decimal.NewFromInt(100))
	}

	a.Value = a.dxEMA.Add(dx)
	a.TrendWeak = a.Value.LessThan(a.threshold)

	a.prevHigh, a.prevLow, a.prevClose = high, low, close
}

// ATR is a standalone Wilder average true range cell, used by the OR
// validity predicate (spec.md §4.1) and by buffer sizing (spec.md §4.3)
// independent of the full ADX directional-movement cell above.
type ATR struct {
	period    int
	prevClose decimal.Decimal
	haveBar   bool
	smoothed  decimal.Decimal
	count     int

	Value decimal.Decimal
}

// NewATR constructs an ATR cell with the given Wilder period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Update folds in the next bar's high/low/close.
func (a *ATR) Update(high, low, close decimal.Decimal) {
	tr := types.Bar{High: high, Low: low, Close: close}.TrueRange(a.prevClose)
	if !a.haveBar {
		a.smoothed = tr
		a.Value = tr
		a.haveBar = true
		a.prevClose = close
		a.count++
		return
	}
	n := decimal.NewFromInt(int64(a.period))
	a.smoothed = a.smoothed.Sub(a.smoothed.Div(n)).Add(tr)
	a.Value = a.smoothed.Div(n)
	a.prevClose = close
	a.count++
}

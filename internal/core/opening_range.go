// Package core holds the per-bar feature/indicator state named in spec.md
// §2 component 1 and §4.1-4.2: the Opening Range builder, the indicator
// cells (relative volume, session VWAP, ADX), the factor evaluator, and the
// confluence scorer. These are mutated exclusively by the event loop
// (internal/engine); playbooks and the arbitrator receive read-only views,
// matching the ownership rule in spec.md §5.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpeningRange is the mutable-until-finalized high/low envelope of a
// session's first N minutes (spec.md §3, §4.1).
type OpeningRange struct {
	StartTimestamp time.Time
	Duration       time.Duration

	RunningHigh decimal.Decimal
	RunningLow  decimal.Decimal

	Finalized bool
	Valid     bool

	sawBar bool
}

// NewOpeningRange starts a new OR at the given session start.
func NewOpeningRange(start time.Time, duration time.Duration) *OpeningRange {
	return &OpeningRange{StartTimestamp: start, Duration: duration}
}

// Width returns high - low. Zero before any bar has been observed.
func (or *OpeningRange) Width() decimal.Decimal {
	if !or.sawBar {
		return decimal.Zero
	}
	return or.RunningHigh.Sub(or.RunningLow)
}

// inWindow reports whether ts falls within [start, start+duration).
func (or *OpeningRange) inWindow(ts time.Time) bool {
	end := or.StartTimestamp.Add(or.Duration)
	return !ts.Before(or.StartTimestamp) && ts.Before(end)
}

// Update extends running_high/running_low when bar.timestamp falls inside
// the OR window. It is a no-op once Finalized. Mirrors spec.md §4.1's
// `update(bar)` operation.
func (or *OpeningRange) Update(ts time.Time, high, low decimal.Decimal) {
	if or.Finalized || !or.inWindow(ts) {
		return
	}
	if !or.sawBar {
		or.RunningHigh = high
		or.RunningLow = low
		or.sawBar = true
		return
	}
	if high.GreaterThan(or.RunningHigh) {
		or.RunningHigh = high
	}
	if low.LessThan(or.RunningLow) {
		or.RunningLow = low
	}
}

// FinalizeIfDue finalizes the OR once a bar at or beyond start+duration is
// observed, evaluating validity against a precomputed ATR. The validity
// decision is one-shot and permanent (spec.md §4.1). If no bar ever fell
// inside the window, the OR finalizes with Valid=false and zero width — the
// "gap" failure mode.
func (or *OpeningRange) FinalizeIfDue(ts time.Time, atr decimal.Decimal, minATRMult, maxATRMult decimal.Decimal, validityEnabled bool) {
	if or.Finalized {
		return
	}
	end := or.StartTimestamp.Add(or.Duration)
	if ts.Before(end) {
		return
	}
	or.Finalized = true
	if !or.sawBar {
		or.Valid = false
		return
	}
	if !validityEnabled {
		or.Valid = true
		return
	}
	width := or.Width()
	lower := minATRMult.Mul(atr)
	upper := maxATRMult.Mul(atr)
	or.Valid = width.GreaterThanOrEqual(lower) && width.LessThanOrEqual(upper)
}

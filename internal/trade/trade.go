// Package trade implements the active-trade entity and its bar-by-bar
// lifecycle state machine (spec.md §3, §4.4), grounded on
// original_source/orb_confluence/strategy/trade_state.py and
// trade_manager.py, generalized into the teacher's struct-with-methods
// idiom (internal/backtester/portfolio.go's position-tracking style).
package trade

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// Phase is the trade's position in the INITIAL -> BREAKEVEN_PROMOTED ->
// TRAILING -> CLOSED state machine (spec.md §4.4).
type Phase string

const (
	PhaseInitial            Phase = "initial"
	PhaseBreakevenPromoted  Phase = "breakeven_promoted"
	PhaseTrailing           Phase = "trailing"
	PhaseClosed             Phase = "closed"
)

// Signal is the entry trigger that produced this trade, carrying the
// confluence metadata spec.md §3 requires for later analysis.
type Signal struct {
	SignalID           string
	Direction          types.Direction
	Timestamp          time.Time
	EntryPrice         decimal.Decimal
	ConfluenceScore    decimal.Decimal
	ConfluenceRequired decimal.Decimal
	ORHigh             decimal.Decimal
	ORLow              decimal.Decimal
	PlaybookName       string
}

// Active tracks one open position from entry through exit, including
// partial fills, stop adjustments, and R-multiple progression (spec.md
// §3's ActiveTrade entity).
type Active struct {
	TradeID        string
	Direction      types.Direction
	EntryTimestamp time.Time
	EntryPrice     decimal.Decimal

	StopPriceInitial decimal.Decimal
	StopPriceCurrent decimal.Decimal
	InitialRisk      decimal.Decimal

	Targets       []types.Target
	RemainingSize decimal.Decimal
	PartialsFilled []types.PartialFill

	Phase            Phase
	MovedToBreakeven bool
	BreakevenPrice   decimal.Decimal

	PeakFavorableR decimal.Decimal
	MaxFavorableR  decimal.Decimal
	MaxAdverseR    decimal.Decimal

	ExitTimestamp time.Time
	ExitPrice     decimal.Decimal
	ExitReason    types.ExitReason
	RealizedR     decimal.Decimal

	Signal Signal
}

// remainingSizeTolerance mirrors the Python manager's 0.001 floating-point
// tolerance for "all targets filled".
var remainingSizeTolerance = decimal.NewFromFloat(0.001)

// New opens a trade from a filled signal, computing InitialRisk as
// |entry - stop|.
func New(tradeID string, sig Signal, stopInitial decimal.Decimal, targets []types.Target) *Active {
	risk := sig.EntryPrice.Sub(stopInitial).Abs()
	return &Active{
		TradeID:          tradeID,
		Direction:        sig.Direction,
		EntryTimestamp:   sig.Timestamp,
		EntryPrice:       sig.EntryPrice,
		StopPriceInitial: stopInitial,
		StopPriceCurrent: stopInitial,
		InitialRisk:      risk,
		Targets:          targets,
		RemainingSize:    decimal.NewFromInt(1),
		Phase:            PhaseInitial,
		Signal:           sig,
	}
}

// IsOpen reports whether the trade has not yet closed.
func (t *Active) IsOpen() bool { return t.Phase != PhaseClosed }

// CurrentR computes the R-multiple of the given price relative to entry
// and initial risk (spec.md §4.4). Zero risk yields zero R.
func (t *Active) CurrentR(price decimal.Decimal) decimal.Decimal {
	if t.InitialRisk.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	var pnl decimal.Decimal
	if t.Direction == types.DirectionLong {
		pnl = price.Sub(t.EntryPrice)
	} else {
		pnl = t.EntryPrice.Sub(price)
	}
	return pnl.Div(t.InitialRisk)
}

// updateExtremes folds one bar-side price into the max favorable/adverse R
// and the trailing-phase peak.
func (t *Active) updateExtremes(price decimal.Decimal) {
	r := t.CurrentR(price)
	if r.GreaterThan(t.MaxFavorableR) {
		t.MaxFavorableR = r
	}
	if r.LessThan(t.MaxAdverseR) {
		t.MaxAdverseR = r
	}
	if r.GreaterThan(t.PeakFavorableR) {
		t.PeakFavorableR = r
	}
}

func (t *Active) stopHit(barHigh, barLow decimal.Decimal) bool {
	if t.Direction == types.DirectionLong {
		return barLow.LessThanOrEqual(t.StopPriceCurrent)
	}
	return barHigh.GreaterThanOrEqual(t.StopPriceCurrent)
}

func (t *Active) anyTargetHit(barHigh, barLow decimal.Decimal) bool {
	for _, tg := range t.Targets {
		if t.Direction == types.DirectionLong {
			if barHigh.GreaterThanOrEqual(tg.Price) {
				return true
			}
		} else if barLow.LessThanOrEqual(tg.Price) {
			return true
		}
	}
	return false
}

func (t *Active) alreadyFilled(targetIndex int) bool {
	for _, pf := range t.PartialsFilled {
		if pf.TargetIndex == targetIndex {
			return true
		}
	}
	return false
}

// Manager applies the bar-by-bar protocol spec.md §4.4 defines: conservative
// stop-before-target co-occurrence, ordered partial fills, breakeven
// promotion, and trailing-stop management.
type Manager struct {
	ConservativeFills bool
	MoveBEAtR         decimal.Decimal
	BEBuffer          decimal.Decimal
	TrailingEnabled   bool
	TrailingStartR    decimal.Decimal
	TrailingDistanceR decimal.Decimal
}

// UpdateResult reports what happened to a trade during one bar.
type UpdateResult struct {
	PartialFill     bool
	BreakevenMoved  bool
	TrailingUpdated bool
	Closed          bool
}

// Update applies one bar to an open trade, following spec.md §4.4's
// sequence: extend R extremes, conservative co-occurrence check, stop
// check, ordered partial-target check, completion check, breakeven
// promotion, trailing-stop update.
func (m Manager) Update(t *Active, bar types.Bar) UpdateResult {
	if !t.IsOpen() {
		return UpdateResult{Closed: true}
	}

	t.updateExtremes(bar.High)
	t.updateExtremes(bar.Low)

	stopHit := t.stopHit(bar.High, bar.Low)
	targetHit := t.anyTargetHit(bar.High, bar.Low)

	if m.ConservativeFills && stopHit && targetHit {
		m.closeOnStop(t, bar.Timestamp)
		return UpdateResult{Closed: true}
	}

	if stopHit {
		m.closeOnStop(t, bar.Timestamp)
		return UpdateResult{Closed: true}
	}

	res := UpdateResult{}
	if m.checkPartialFills(t, bar) {
		res.PartialFill = true
	}

	if t.RemainingSize.LessThanOrEqual(remainingSizeTolerance) {
		last := t.PartialsFilled[len(t.PartialsFilled)-1]
		t.ExitTimestamp = bar.Timestamp
		t.ExitPrice = last.Price
		t.ExitReason = types.ExitReasonTarget
		t.Phase = PhaseClosed
		t.RealizedR = m.computeRealizedR(t)
		res.Closed = true
		return res
	}

	if !t.MovedToBreakeven {
		if m.checkBreakevenMove(t, bar.High, bar.Low) {
			res.BreakevenMoved = true
		}
	}

	if m.TrailingEnabled && t.MovedToBreakeven {
		if m.updateTrailing(t) {
			res.TrailingUpdated = true
		}
	}

	return res
}

func (m Manager) checkPartialFills(t *Active, bar types.Bar) bool {
	any := false
	for i, tg := range t.Targets {
		if t.alreadyFilled(i) {
			continue
		}
		hit := false
		if t.Direction == types.DirectionLong {
			hit = bar.High.GreaterThanOrEqual(tg.Price)
		} else {
			hit = bar.Low.LessThanOrEqual(tg.Price)
		}
		if !hit {
			continue
		}
		rAtFill := t.CurrentR(tg.Price)
		t.PartialsFilled = append(t.PartialsFilled, types.PartialFill{
			Timestamp:    bar.Timestamp,
			Price:        tg.Price,
			TargetIndex:  i,
			SizeFraction: tg.SizeFraction,
			RMultiple:    rAtFill,
		})
		t.RemainingSize = t.RemainingSize.Sub(tg.SizeFraction)
		any = true
	}
	return any
}

func (m Manager) checkBreakevenMove(t *Active, barHigh, barLow decimal.Decimal) bool {
	var favorable decimal.Decimal
	if t.Direction == types.DirectionLong {
		favorable = barHigh
	} else {
		favorable = barLow
	}
	currentR := t.CurrentR(favorable)
	if currentR.LessThan(m.MoveBEAtR) {
		return false
	}

	var newStop decimal.Decimal
	if t.Direction == types.DirectionLong {
		newStop = t.EntryPrice.Add(m.BEBuffer)
	} else {
		newStop = t.EntryPrice.Sub(m.BEBuffer)
	}
	t.StopPriceCurrent = newStop
	t.MovedToBreakeven = true
	t.BreakevenPrice = newStop
	t.Phase = PhaseBreakevenPromoted
	return true
}

// updateTrailing tightens the stop once the trade is far enough past
// breakeven, following peak_favorable_r minus a configured distance. A
// trailing stop only ever tightens — it never loosens a stop already moved
// to breakeven (spec.md §4.4's "stop only tightens" invariant).
func (m Manager) updateTrailing(t *Active) bool {
	if t.PeakFavorableR.LessThan(m.TrailingStartR) {
		return false
	}
	trailR := t.PeakFavorableR.Sub(m.TrailingDistanceR)
	if trailR.LessThan(m.MoveBEAtR) {
		trailR = m.MoveBEAtR
	}

	var candidate decimal.Decimal
	if t.Direction == types.DirectionLong {
		candidate = t.EntryPrice.Add(trailR.Mul(t.InitialRisk))
		if candidate.LessThanOrEqual(t.StopPriceCurrent) {
			return false
		}
	} else {
		candidate = t.EntryPrice.Sub(trailR.Mul(t.InitialRisk))
		if candidate.GreaterThanOrEqual(t.StopPriceCurrent) {
			return false
		}
	}
	t.StopPriceCurrent = candidate
	t.Phase = PhaseTrailing
	return true
}

// closeOnStop closes a trade whose stop was hit. The exit reason is
// `stop` only when the stop is still the original entry-side stop;
// once a breakeven promotion has raised it past entry, spec.md §4.4
// item 3 calls the same stop level a `trailing` exit instead, so
// governance's full-stop-loss counter (§4.5) doesn't treat a
// breakeven-flat close as a real loss.
func (m Manager) closeOnStop(t *Active, ts time.Time) {
	t.ExitTimestamp = ts
	t.ExitPrice = t.StopPriceCurrent
	if t.MovedToBreakeven {
		t.ExitReason = types.ExitReasonTrailing
	} else {
		t.ExitReason = types.ExitReasonStop
	}
	t.Phase = PhaseClosed
	t.RealizedR = m.computeRealizedR(t)
}

// computeRealizedR is a size-weighted sum over partial fills plus the
// final exit's weighted R, matching
// trade_manager.py's _compute_realized_r.
func (m Manager) computeRealizedR(t *Active) decimal.Decimal {
	total := decimal.Zero
	for _, pf := range t.PartialsFilled {
		total = total.Add(pf.RMultiple.Mul(pf.SizeFraction))
	}
	if t.RemainingSize.GreaterThan(remainingSizeTolerance) {
		finalR := t.CurrentR(t.ExitPrice)
		total = total.Add(finalR.Mul(t.RemainingSize))
	}
	return total
}

// CloseForGovernance force-closes a trade at the given price for a reason
// outside the normal stop/target protocol (governance lockout, session end,
// salvage), spec.md §4.4's "exit_reason not limited to stop/target".
func (m Manager) CloseForGovernance(t *Active, ts time.Time, price decimal.Decimal, reason types.ExitReason) {
	t.ExitTimestamp = ts
	t.ExitPrice = price
	t.ExitReason = reason
	t.Phase = PhaseClosed
	t.RealizedR = m.computeRealizedR(t)
}

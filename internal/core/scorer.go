package core

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// ScoreResult is the per-direction outcome of the confluence gate
// (spec.md §4.2): the weighted score, the threshold it was measured
// against, and whether it clears the bar.
type ScoreResult struct {
	Direction types.Direction
	Score     decimal.Decimal
	Required  decimal.Decimal
	Passes    bool
	Factors   Snapshot
}

// Score computes score = sum(w_i * f_i) over the closed factor set for one
// direction, against the regime-dependent required threshold: weak_trend
// when the ADX cell reports TrendWeak, base otherwise (spec.md §4.2).
func Score(factors Snapshot, weights map[string]decimal.Decimal, baseRequired, weakTrendRequired decimal.Decimal, trendWeak bool, dir types.Direction) ScoreResult {
	sum := decimal.Zero
	for _, name := range AllFactors {
		w, ok := weights[string(name)]
		if !ok {
			continue
		}
		sum = sum.Add(w.Mul(factors[name]))
	}

	required := baseRequired
	if trendWeak {
		required = weakTrendRequired
	}

	return ScoreResult{
		Direction: dir,
		Score:     sum,
		Required:  required,
		Passes:    sum.GreaterThanOrEqual(required),
		Factors:   factors,
	}
}

// EvaluateBoth scores both directions for the current bar and returns the
// pair, leaving direction selection (including the tie-break) to Select.
func EvaluateBoth(bar types.Bar, or *OpeningRange, ind Indicators, cfg *config.Scoring, trendWeak bool) (long, short ScoreResult) {
	weights := make(map[string]decimal.Decimal, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}

	longFactors := Evaluate(bar, or, ind, types.DirectionLong)
	shortFactors := Evaluate(bar, or, ind, types.DirectionShort)

	long = Score(longFactors, weights, cfg.BaseRequired, cfg.WeakTrendRequired, trendWeak, types.DirectionLong)
	short = Score(shortFactors, weights, cfg.BaseRequired, cfg.WeakTrendRequired, trendWeak, types.DirectionShort)
	return long, short
}

// Select applies spec.md §4.2's tie-break: if both directions pass, the one
// with the larger margin over its required threshold wins; an exact tie in
// margin falls back to the configured tie_priority direction, and a
// tie_priority of "" (no preference configured) yields no selection at all
// on an exact tie, matching the spec's "unresolved tie is a non-signal"
// reading when no operator preference is recorded.
func Select(long, short ScoreResult, tiePriority string) (ScoreResult, bool) {
	if long.Passes && !short.Passes {
		return long, true
	}
	if short.Passes && !long.Passes {
		return short, true
	}
	if !long.Passes && !short.Passes {
		return ScoreResult{}, false
	}

	longMargin := long.Score.Sub(long.Required)
	shortMargin := short.Score.Sub(short.Required)

	if longMargin.GreaterThan(shortMargin) {
		return long, true
	}
	if shortMargin.GreaterThan(longMargin) {
		return short, true
	}

	switch tiePriority {
	case "long":
		return long, true
	case "short":
		return short, true
	default:
		return ScoreResult{}, false
	}
}

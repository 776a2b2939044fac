// Package analytics implements the engine's post-run validation tools —
// Monte Carlo resampling, parameter perturbation, and walk-forward
// windowing — grounded on the teacher's
// internal/backtester.MonteCarloSimulator and
// original_source/orb_confluence/analytics/{perturbation,walk_forward}.py.
// These operate on a completed run's closed trades and R-multiples, never
// on the per-bar hot path the core/engine packages own.
package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/internal/trade"
)

// Expectancy returns the mean realized R across a set of closed trades,
// the single summary statistic every validation tool in this package
// ultimately compares across perturbed configs or walk-forward windows.
func Expectancy(trades []*trade.Active) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, t := range trades {
		sum = sum.Add(t.RealizedR)
	}
	return sum.Div(decimal.NewFromInt(int64(len(trades))))
}

// realizedRs extracts the raw R-multiple series in close order.
func realizedRs(trades []*trade.Active) []decimal.Decimal {
	out := make([]decimal.Decimal, len(trades))
	for i, t := range trades {
		out[i] = t.RealizedR
	}
	return out
}

func percentile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}
	idxF := (p / 100) * float64(len(sorted)-1)
	lower := int(idxF)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := decimal.NewFromFloat(idxF - float64(lower))
	return sorted[lower].Add(sorted[upper].Sub(sorted[lower]).Mul(weight))
}

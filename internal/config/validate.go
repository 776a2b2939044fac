package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate enforces every configuration invariant spec.md §6 and §9 name.
// It accumulates every violation found (via errors.Join) rather than
// stopping at the first, mirroring the teacher's preference for surfacing
// the whole problem set to an operator in one pass. A nil return means the
// configuration may begin a run (spec.md §7, "Configuration invariant").
func Validate(r *Root) error {
	var errs []error

	check := func(cond bool, format string, args ...any) {
		if !cond {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(r.OpeningRange.BaseMinutes > 0, "opening_range.base_minutes must be positive, got %d", r.OpeningRange.BaseMinutes)
	check(r.OpeningRange.ATRPeriod > 0, "opening_range.atr_period must be positive, got %d", r.OpeningRange.ATRPeriod)
	if r.OpeningRange.Validity.Enabled {
		check(r.OpeningRange.Validity.MinATRMult.GreaterThanOrEqual(decimal.Zero),
			"opening_range.validity.min_atr_mult must be >= 0")
		check(r.OpeningRange.Validity.MaxATRMult.GreaterThan(r.OpeningRange.Validity.MinATRMult),
			"opening_range.validity.max_atr_mult must exceed min_atr_mult")
	}

	check(r.Buffers.Fixed.GreaterThanOrEqual(decimal.Zero) || r.Buffers.UseATR,
		"buffers.fixed must be >= 0 when use_atr is false")
	if r.Buffers.UseATR {
		check(r.Buffers.ATRMult.GreaterThan(decimal.Zero), "buffers.atr_mult must be positive when use_atr is true")
	}

	check(r.Scoring.BaseRequired.GreaterThan(decimal.Zero), "scoring.base_required must be positive")
	check(r.Scoring.WeakTrendRequired.GreaterThanOrEqual(r.Scoring.BaseRequired),
		"scoring.weak_trend_required must be >= base_required")
	for name, w := range r.Scoring.Weights {
		check(w.GreaterThanOrEqual(decimal.Zero), "scoring.weights[%s] must be non-negative, got %s", name, w)
	}
	check(r.Scoring.TiePriority == "long" || r.Scoring.TiePriority == "short" || r.Scoring.TiePriority == "",
		"scoring.tie_priority must be 'long' or 'short', got %q", r.Scoring.TiePriority)

	if r.Trade.Partials {
		check(r.Trade.T1R.LessThan(r.Trade.T2R) || r.Trade.T2R.IsZero(),
			"trade.t1_r must be < t2_r when both are set")
		if !r.Trade.T2R.IsZero() {
			check(r.Trade.T2R.LessThan(r.Trade.RunnerR) || r.Trade.RunnerR.IsZero(),
				"trade.t2_r must be < runner_r when both are set")
		}
		sumPct := r.Trade.T1Pct.Add(r.Trade.T2Pct)
		check(sumPct.LessThanOrEqual(decimal.NewFromInt(1)),
			"trade.t1_pct + t2_pct must be <= 1, got %s", sumPct)
	}
	if r.Trade.Trailing.Enabled {
		check(r.Trade.Trailing.StartR.GreaterThanOrEqual(r.Trade.MoveBEAtR),
			"trade.trailing.start_r must be >= trade.move_be_at_r (trailing_start_r >= move_be_at_r)")
	}
	check(r.Governance.MaxSignalsPerDay > 0, "governance.max_signals_per_day must be positive")
	check(r.Governance.LockoutAfterLosses > 0, "governance.lockout_after_losses must be positive")

	if r.MultiPlaybook != nil {
		mp := r.MultiPlaybook
		check(mp.AccountSize.GreaterThan(decimal.Zero), "multi_playbook.account_size must be positive")
		check(mp.BaseRisk.GreaterThan(decimal.Zero), "multi_playbook.base_risk must be positive")
		check(mp.MaxSimultaneousPositions > 0, "multi_playbook.max_simultaneous_positions must be positive")
		check(mp.TargetVolatility.GreaterThan(decimal.Zero), "multi_playbook.target_volatility must be positive")
		check(mp.MaxPortfolioHeat.GreaterThan(decimal.Zero) && mp.MaxPortfolioHeat.LessThanOrEqual(decimal.NewFromInt(1)),
			"multi_playbook.max_portfolio_heat must be in (0, 1], got %s", mp.MaxPortfolioHeat)
		check(mp.CorrelationThreshold.GreaterThanOrEqual(decimal.Zero), "multi_playbook.correlation_threshold must be >= 0")
		check(mp.MinRegimeClarity.GreaterThanOrEqual(decimal.Zero), "multi_playbook.min_regime_clarity must be >= 0")
		check(mp.PointValue.GreaterThan(decimal.Zero), "multi_playbook.point_value must be positive")
		weightSum := decimal.Zero
		for _, w := range mp.ArbitratorWeights {
			weightSum = weightSum.Add(w)
		}
		if len(mp.ArbitratorWeights) > 0 {
			check(weightSum.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.NewFromFloat(1e-6)),
				"multi_playbook.arbitrator_weights must sum to 1, got %s", weightSum)
		}
		seen := make(map[string]bool, len(mp.Playbooks))
		for _, pb := range mp.Playbooks {
			check(!seen[pb.Name], "multi_playbook.playbooks contains duplicate name %q", pb.Name)
			seen[pb.Name] = true
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

package analytics

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/barsrc"
	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/internal/engine"
	"github.com/orbconfluence/backtest-engine/internal/telemetry"
	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// parameterFields is the closed set of numeric config fields perturbation
// analysis may vary, grounded on
// original_source/orb_confluence/analytics/perturbation.py's
// dot-separated parameter_path ('trade.t1_r', 'scoring.base_required',
// ...). A fixed field registry replaces the Python's reflective
// getattr/setattr walk, which has no natural idiomatic equivalent over a
// typed Go struct.
var parameterFields = map[string]func(*config.Root) *decimal.Decimal{
	"trade.t1_r":                 func(r *config.Root) *decimal.Decimal { return &r.Trade.T1R },
	"trade.t2_r":                 func(r *config.Root) *decimal.Decimal { return &r.Trade.T2R },
	"trade.runner_r":             func(r *config.Root) *decimal.Decimal { return &r.Trade.RunnerR },
	"trade.move_be_at_r":         func(r *config.Root) *decimal.Decimal { return &r.Trade.MoveBEAtR },
	"trade.trailing.distance_r":  func(r *config.Root) *decimal.Decimal { return &r.Trade.Trailing.DistanceR },
	"scoring.base_required":      func(r *config.Root) *decimal.Decimal { return &r.Scoring.BaseRequired },
	"scoring.weak_trend_required": func(r *config.Root) *decimal.Decimal { return &r.Scoring.WeakTrendRequired },
}

// Result is the outcome of perturbing a single parameter by a single
// delta, mirroring perturbation.py's PerturbationResult.
type Result struct {
	ParameterPath        string
	BaseValue            decimal.Decimal
	PerturbedValue       decimal.Decimal
	DeltaPct             decimal.Decimal
	BaseExpectancy       decimal.Decimal
	PerturbedExpectancy  decimal.Decimal
	ExpectancyChange     decimal.Decimal
	ExpectancyChangePct  decimal.Decimal
}

// PerturbConfig clones base and scales the named field by (1 + deltaPct/100).
func PerturbConfig(base *config.Root, parameterPath string, deltaPct decimal.Decimal) (*config.Root, decimal.Decimal, decimal.Decimal, error) {
	fieldOf, ok := parameterFields[parameterPath]
	if !ok {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("unknown perturbation parameter %q", parameterPath)
	}

	clone := base.Clone()
	baseValue := *fieldOf(base)
	multiplier := decimal.NewFromInt(1).Add(deltaPct.Div(decimal.NewFromInt(100)))
	newValue := baseValue.Mul(multiplier)
	*fieldOf(clone) = newValue

	return clone, baseValue, newValue, nil
}

// AnalyzePerturbation runs the engine once with baseCfg and once with
// parameterPath perturbed by deltaPct over the same bars, comparing
// expectancy (mean realized R), grounded on perturbation.py's
// analyze_perturbation.
func AnalyzePerturbation(ctx context.Context, logger *zap.Logger, baseCfg *config.Root, bars []types.Bar, parameterPath string, deltaPct decimal.Decimal) (Result, error) {
	baseResult, err := runOnce(ctx, logger, baseCfg, bars)
	if err != nil {
		return Result{}, fmt.Errorf("base run: %w", err)
	}
	baseExpectancy := Expectancy(baseResult.ClosedTrades)

	perturbedCfg, baseValue, perturbedValue, err := PerturbConfig(baseCfg, parameterPath, deltaPct)
	if err != nil {
		return Result{}, err
	}
	perturbedResult, err := runOnce(ctx, logger, perturbedCfg, bars)
	if err != nil {
		return Result{}, fmt.Errorf("perturbed run: %w", err)
	}
	perturbedExpectancy := Expectancy(perturbedResult.ClosedTrades)

	change := perturbedExpectancy.Sub(baseExpectancy)
	changePct := decimal.Zero
	if !baseExpectancy.IsZero() {
		changePct = change.Div(baseExpectancy).Mul(decimal.NewFromInt(100))
	}

	return Result{
		ParameterPath:       parameterPath,
		BaseValue:           baseValue,
		PerturbedValue:      perturbedValue,
		DeltaPct:            deltaPct,
		BaseExpectancy:      baseExpectancy,
		PerturbedExpectancy: perturbedExpectancy,
		ExpectancyChange:    change,
		ExpectancyChangePct: changePct,
	}, nil
}

// RunPerturbationAnalysis sweeps every (parameter, delta) combination,
// grounded on perturbation.py's run_perturbation_analysis. A failure on
// one combination is logged and skipped rather than aborting the sweep,
// matching the Python's try/except-per-combination behavior.
func RunPerturbationAnalysis(ctx context.Context, logger *zap.Logger, baseCfg *config.Root, bars []types.Bar, parameters []string, deltaPcts []decimal.Decimal) []Result {
	var results []Result
	for _, param := range parameters {
		for _, delta := range deltaPcts {
			res, err := AnalyzePerturbation(ctx, logger, baseCfg, bars, param, delta)
			if err != nil {
				if logger != nil {
					logger.Warn("perturbation failed", zap.String("parameter", param), zap.String("delta_pct", delta.String()), zap.Error(err))
				}
				continue
			}
			results = append(results, res)
		}
	}
	return results
}

func runOnce(ctx context.Context, logger *zap.Logger, cfg *config.Root, bars []types.Bar) (*engine.Result, error) {
	source := barsrc.NewSliceSource(bars)
	eng := engine.New(logger, cfg, source, telemetry.NoOp{}, nil)
	return eng.Run(ctx)
}

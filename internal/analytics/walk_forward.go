package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/internal/trade"
	"github.com/orbconfluence/backtest-engine/pkg/types"
	"github.com/orbconfluence/backtest-engine/pkg/utils"
)

// Window is one train/test split of a bar series, grounded on
// walk_forward.py's WalkForwardWindow.
type Window struct {
	WindowID   int
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
	TrainBars  []types.Bar
	TestBars   []types.Bar
}

// CreateWindows splits bars into overlapping or disjoint train/test
// windows of fixed bar counts, grounded on
// walk_forward.py's create_walk_forward_windows. stepBars defaults to
// testBars (non-overlapping test windows) when <= 0.
func CreateWindows(bars []types.Bar, trainBars, testBars, stepBars int) []Window {
	if stepBars <= 0 {
		stepBars = testBars
	}

	var windows []Window
	id := 0
	for idx := 0; idx+trainBars+testBars <= len(bars); idx += stepBars {
		trainStart := idx
		trainEnd := idx + trainBars - 1
		testStart := trainEnd + 1
		testEnd := testStart + testBars - 1

		windows = append(windows, Window{
			WindowID:   id,
			TrainStart: bars[trainStart].Timestamp,
			TrainEnd:   bars[trainEnd].Timestamp,
			TestStart:  bars[testStart].Timestamp,
			TestEnd:    bars[testEnd].Timestamp,
			TrainBars:  append([]types.Bar(nil), bars[trainStart:trainEnd+1]...),
			TestBars:   append([]types.Bar(nil), bars[testStart:testEnd+1]...),
		})
		id++
	}
	return windows
}

// WindowResult pairs a window with its train-optimized config, the
// expectancy that config achieved in-sample, and its held-out test
// expectancy.
type WindowResult struct {
	Window           Window
	ChosenValue      decimal.Decimal
	TrainExpectancy  decimal.Decimal
	TestExpectancy   decimal.Decimal
	TestTrades       []*trade.Active
}

// StabilityMetrics summarizes how consistent test performance was across
// windows, grounded on walk_forward.py's stability_metrics dict.
type StabilityMetrics struct {
	MeanTestExpectancy decimal.Decimal
	StdTestExpectancy  decimal.Decimal
	PositiveWindowFrac decimal.Decimal
}

// WalkForwardResult is the full walk-forward analysis output.
type WalkForwardResult struct {
	Windows          []WindowResult
	Aggregated       decimal.Decimal
	Stability        StabilityMetrics
}

// Run performs walk-forward validation: for each window, grid-search
// parameterPath over candidateValues on the training slice (maximizing
// expectancy), then evaluate the chosen value out-of-sample on the test
// slice — grounded on walk_forward.py's simple_grid_optimization plus its
// per-window test evaluation, narrowed to a single parameter since this
// module's config surface doesn't need the Python's full multi-parameter
// grid.
func Run(ctx context.Context, logger *zap.Logger, baseCfg *config.Root, windows []Window, parameterPath string, candidateValues []decimal.Decimal) (WalkForwardResult, error) {
	fieldOf, ok := parameterFields[parameterPath]
	if !ok {
		return WalkForwardResult{}, fmt.Errorf("unknown walk-forward parameter %q", parameterPath)
	}
	var results []WindowResult

	for _, w := range windows {
		bestValue := decimal.Zero
		bestExpectancy := decimal.Zero
		first := true

		for _, candidate := range candidateValues {
			cfg := baseCfg.Clone()
			*fieldOf(cfg) = candidate
			trainResult, err := runOnce(ctx, logger, cfg, w.TrainBars)
			if err != nil {
				return WalkForwardResult{}, fmt.Errorf("window %d train: %w", w.WindowID, err)
			}
			expectancy := Expectancy(trainResult.ClosedTrades)
			if first || expectancy.GreaterThan(bestExpectancy) {
				bestExpectancy = expectancy
				bestValue = candidate
				first = false
			}
		}

		chosenCfg := baseCfg.Clone()
		*fieldOf(chosenCfg) = bestValue
		testResult, err := runOnce(ctx, logger, chosenCfg, w.TestBars)
		if err != nil {
			return WalkForwardResult{}, fmt.Errorf("window %d test: %w", w.WindowID, err)
		}

		results = append(results, WindowResult{
			Window:          w,
			ChosenValue:     bestValue,
			TrainExpectancy: bestExpectancy,
			TestExpectancy:  Expectancy(testResult.ClosedTrades),
			TestTrades:      testResult.ClosedTrades,
		})
	}

	return WalkForwardResult{
		Windows:    results,
		Aggregated: aggregateExpectancy(results),
		Stability:  stability(results),
	}, nil
}

func aggregateExpectancy(results []WindowResult) decimal.Decimal {
	if len(results) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, r := range results {
		sum = sum.Add(r.TestExpectancy)
	}
	return sum.Div(decimal.NewFromInt(int64(len(results))))
}

func stability(results []WindowResult) StabilityMetrics {
	if len(results) == 0 {
		return StabilityMetrics{}
	}
	values := make([]decimal.Decimal, len(results))
	positive := 0
	for i, r := range results {
		values[i] = r.TestExpectancy
		if r.TestExpectancy.GreaterThan(decimal.Zero) {
			positive++
		}
	}
	mean := aggregateExpectancy(results)

	sumSq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(values))))
	std := utils.SqrtDecimal(variance)

	return StabilityMetrics{
		MeanTestExpectancy: mean,
		StdTestExpectancy:  std,
		PositiveWindowFrac: decimal.NewFromInt(int64(positive)).Div(decimal.NewFromInt(int64(len(results)))),
	}
}

package playbook

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// MomentumConfig parameterizes the Momentum Continuation playbook,
// grounded on momentum_continuation.py's constructor defaults.
type MomentumConfig struct {
	PullbackMin      decimal.Decimal // Fibonacci retrace fraction, e.g. 0.382
	PullbackMax      decimal.Decimal // e.g. 0.618
	ImpulseLookback  int             // bars examined for the impulse range
	StopBufferR      decimal.Decimal
	TargetExtensionR decimal.Decimal
}

// DefaultMomentumConfig mirrors momentum_continuation.py's defaults
// (pullback_min=0.382, pullback_max=0.618, stop_buffer_r=0.15).
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		PullbackMin:      decimal.NewFromFloat(0.382),
		PullbackMax:      decimal.NewFromFloat(0.618),
		ImpulseLookback:  15,
		StopBufferR:      decimal.NewFromFloat(0.15),
		TargetExtensionR: decimal.NewFromFloat(2.5),
	}
}

// MomentumContinuation rides established trends by entering on a
// Fibonacci pullback within a strong impulse, gated on the ADX cell's
// trend-strength reading in place of the Python's multi-timeframe
// Impulse Quality Function (the engine has no lower-timeframe data
// source; ADX non-weak is the available proxy for "impulse is real").
// Grounded on
// original_source/orb_confluence/strategy/playbooks/momentum_continuation.py.
type MomentumContinuation struct {
	cfg MomentumConfig
}

// NewMomentumContinuation constructs the playbook with the given config.
func NewMomentumContinuation(cfg MomentumConfig) *MomentumContinuation {
	return &MomentumContinuation{cfg: cfg}
}

func (p *MomentumContinuation) Name() string        { return "Momentum Continuation" }
func (p *MomentumContinuation) PlaybookType() string { return "momentum" }
func (p *MomentumContinuation) Description() string {
	return "Trend-following entries on Fibonacci pullbacks within a confirmed impulse."
}
func (p *MomentumContinuation) PreferredRegimes() []string { return []string{"trend"} }

// CheckEntry implements momentum_continuation.py's check_entry: requires a
// non-weak ADX trend, locates the impulse range over a trailing lookback,
// and enters when the current close has pulled back into the
// [PullbackMin, PullbackMax] retracement band and is turning back in the
// trend direction.
func (p *MomentumContinuation) CheckEntry(ctx Context) *Signal {
	if ctx.HasOpenPosition || ctx.Indicators.ADX == nil || ctx.Indicators.ADX.TrendWeak {
		return nil
	}
	if len(ctx.RecentBars) < p.cfg.ImpulseLookback {
		return nil
	}

	window := ctx.RecentBars
	if len(window) > p.cfg.ImpulseLookback {
		window = window[len(window)-p.cfg.ImpulseLookback:]
	}
	low, high := recentRange(window)
	impulseRange := high.Sub(low)
	if impulseRange.IsZero() {
		return nil
	}

	// Trend direction: close of the window's last bar relative to its
	// first bar.
	var dir types.Direction
	if window[len(window)-1].Close.GreaterThan(window[0].Close) {
		dir = types.DirectionLong
	} else {
		dir = types.DirectionShort
	}

	bar := ctx.Bar
	var retrace decimal.Decimal
	if dir == types.DirectionLong {
		retrace = high.Sub(bar.Close).Div(impulseRange)
	} else {
		retrace = bar.Close.Sub(low).Div(impulseRange)
	}

	if retrace.LessThan(p.cfg.PullbackMin) || retrace.GreaterThan(p.cfg.PullbackMax) {
		return nil
	}

	// Confirm the pullback is completing: the current bar closes back
	// toward the trend direction relative to its own open.
	if dir == types.DirectionLong && bar.Close.LessThanOrEqual(bar.Open) {
		return nil
	}
	if dir == types.DirectionShort && bar.Close.GreaterThanOrEqual(bar.Open) {
		return nil
	}

	regimeAlignment := RegimeAlignment(p.PreferredRegimes(), ctx.Regime)

	entry := bar.Close
	buffer := p.cfg.StopBufferR.Mul(impulseRange)
	var stop decimal.Decimal
	if dir == types.DirectionLong {
		stop = low.Sub(buffer)
	} else {
		stop = high.Add(buffer)
	}
	risk := entry.Sub(stop).Abs()
	if risk.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	sign := decimal.NewFromInt(1)
	if dir == types.DirectionShort {
		sign = decimal.NewFromInt(-1)
	}
	runner := entry.Add(sign.Mul(p.cfg.TargetExtensionR).Mul(risk))
	targets := []types.Target{
		{Price: runner, SizeFraction: decimal.NewFromInt(1), Label: "runner"},
	}

	// Strength favors retracements near the middle of the configured band
	// (classic 50% pullback) over the extremes.
	mid := p.cfg.PullbackMin.Add(p.cfg.PullbackMax).Div(decimal.NewFromInt(2))
	deviation := retrace.Sub(mid).Abs()
	span := p.cfg.PullbackMax.Sub(p.cfg.PullbackMin).Div(decimal.NewFromInt(2))
	strength := decimal.NewFromInt(1)
	if span.GreaterThan(decimal.Zero) {
		strength = decimal.NewFromInt(1).Sub(deviation.Div(span))
	}

	return &Signal{
		PlaybookName:    p.Name(),
		Direction:       dir,
		EntryPrice:      entry,
		InitialStop:     stop,
		Targets:         targets,
		Strength:        strength,
		RegimeAlignment: regimeAlignment,
		Confidence:      strength.Mul(regimeAlignment),
		Timestamp:       bar.Timestamp,
		Metadata: map[string]decimal.Decimal{
			"retrace":       retrace,
			"impulse_range": impulseRange,
		},
	}
}

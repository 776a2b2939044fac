package playbook

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// IBFadeConfig parameterizes the Initial Balance Fade playbook, grounded
// on ib_fade.py's IBFadePlaybook.__init__ defaults.
type IBFadeConfig struct {
	ExtensionThreshold decimal.Decimal // multiple of OR width required beyond the OR extreme
	MaxAER             decimal.Decimal // max "auction efficiency" (close position within extension) to accept
	StopBufferR        decimal.Decimal
	T1R                decimal.Decimal
	T2R                decimal.Decimal
}

// DefaultIBFadeConfig mirrors ib_fade.py's constructor defaults
// (extension_threshold=1.5, max_aer=0.65, stop_buffer_r=0.2).
func DefaultIBFadeConfig() IBFadeConfig {
	return IBFadeConfig{
		ExtensionThreshold: decimal.NewFromFloat(1.5),
		MaxAER:             decimal.NewFromFloat(0.65),
		StopBufferR:        decimal.NewFromFloat(0.2),
		T1R:                decimal.NewFromFloat(1.0),
		T2R:                decimal.NewFromFloat(2.0),
	}
}

// InitialBalanceFade fades poor-conviction extensions beyond the Opening
// Range, a mean-reversion playbook grounded on
// original_source/orb_confluence/strategy/playbooks/ib_fade.py. The OR
// itself (internal/core.OpeningRange) stands in for the Python's separate
// Initial Balance window — both are "first N minutes" envelopes, and the
// engine already maintains one.
type InitialBalanceFade struct {
	cfg IBFadeConfig
}

// NewInitialBalanceFade constructs the playbook with the given config.
func NewInitialBalanceFade(cfg IBFadeConfig) *InitialBalanceFade {
	return &InitialBalanceFade{cfg: cfg}
}

func (p *InitialBalanceFade) Name() string        { return "Initial Balance Fade" }
func (p *InitialBalanceFade) PlaybookType() string { return "mean_reversion" }
func (p *InitialBalanceFade) Description() string {
	return "Fades weak extensions beyond the Opening Range, entering on acceptance back toward it."
}
func (p *InitialBalanceFade) PreferredRegimes() []string { return []string{"range", "volatile"} }

// CheckEntry implements ib_fade.py's check_entry: requires a finalized,
// valid OR; an extension beyond the OR extreme of at least
// ExtensionThreshold * OR width; a low "auction efficiency ratio" (the
// extension bar closing back inside the extension, not at its extreme);
// and regime alignment of at least 0.5.
func (p *InitialBalanceFade) CheckEntry(ctx Context) *Signal {
	if ctx.HasOpenPosition || ctx.OR == nil || !ctx.OR.Finalized || !ctx.OR.Valid {
		return nil
	}
	width := ctx.OR.Width()
	if width.IsZero() {
		return nil
	}

	bar := ctx.Bar
	requiredExtension := p.cfg.ExtensionThreshold.Mul(width)

	var dir types.Direction
	var extensionPrice, extensionRange decimal.Decimal

	upExtension := bar.High.Sub(ctx.OR.RunningHigh)
	downExtension := ctx.OR.RunningLow.Sub(bar.Low)

	switch {
	case upExtension.GreaterThanOrEqual(requiredExtension):
		dir = types.DirectionShort // fade the upside extension
		extensionPrice = bar.High
		extensionRange = upExtension
	case downExtension.GreaterThanOrEqual(requiredExtension):
		dir = types.DirectionLong // fade the downside extension
		extensionPrice = bar.Low
		extensionRange = downExtension
	default:
		return nil
	}

	// Auction efficiency ratio: how close the bar's close sits to the
	// extension extreme. A low AER (close has already retreated) signals
	// weak conviction and acceptance back toward the OR.
	var aer decimal.Decimal
	if dir == types.DirectionShort {
		aer = bar.High.Sub(bar.Close).Div(extensionRange)
		aer = decimal.NewFromInt(1).Sub(aer)
	} else {
		aer = bar.Close.Sub(bar.Low).Div(extensionRange)
		aer = decimal.NewFromInt(1).Sub(aer)
	}
	if aer.GreaterThan(p.cfg.MaxAER) {
		return nil
	}

	regimeAlignment := RegimeAlignment(p.PreferredRegimes(), ctx.Regime)
	if regimeAlignment.LessThan(decimal.NewFromFloat(0.5)) {
		return nil
	}

	entry := bar.Close
	stop := p.calculateStop(extensionPrice, dir, extensionRange)
	risk := entry.Sub(stop).Abs()
	if risk.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	targets := p.calculateTargets(entry, dir, risk)
	strength := decimal.NewFromInt(1).Sub(aer.Div(p.cfg.MaxAER))
	if strength.GreaterThan(decimal.NewFromInt(1)) {
		strength = decimal.NewFromInt(1)
	}
	if strength.IsNegative() {
		strength = decimal.Zero
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
			"aer":             aer,
			"extension_range": extensionRange,
		},
	}
}

func (p *InitialBalanceFade) calculateStop(extensionPrice decimal.Decimal, dir types.Direction, extensionRange decimal.Decimal) decimal.Decimal {
	buffer := p.cfg.StopBufferR.Mul(extensionRange)
	if dir == types.DirectionShort {
		return extensionPrice.Add(buffer)
	}
	return extensionPrice.Sub(buffer)
}

func (p *InitialBalanceFade) calculateTargets(entry decimal.Decimal, dir types.Direction, risk decimal.Decimal) []types.Target {
	sign := decimal.NewFromInt(1)
	if dir == types.DirectionShort {
		sign = decimal.NewFromInt(-1)
	}
	t1 := entry.Add(sign.Mul(p.cfg.T1R).Mul(risk))
	t2 := entry.Add(sign.Mul(p.cfg.T2R).Mul(risk))
	return []types.Target{
		{Price: t1, SizeFraction: decimal.NewFromFloat(0.5), Label: "t1"},
		{Price: t2, SizeFraction: decimal.NewFromFloat(0.5), Label: "t2"},
	}
}

package playbook

import (
	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
	"github.com/orbconfluence/backtest-engine/pkg/utils"
)

// VWAPMagnetConfig parameterizes the VWAP Magnet playbook, grounded on
// vwap_magnet.py's VWAPMagnetPlaybook.__init__ defaults.
type VWAPMagnetConfig struct {
	BandMultiplier  decimal.Decimal // std-devs for the dynamic VWAP band
	MinBarsForVWAP  int
	TimeDecayAlpha  decimal.Decimal // shrinks the band as the session matures
	StopBufferR     decimal.Decimal
}

// DefaultVWAPMagnetConfig mirrors vwap_magnet.py's defaults
// (band_multiplier=2.0, min_bars_for_vwap=30, time_decay_alpha=0.5).
func DefaultVWAPMagnetConfig() VWAPMagnetConfig {
	return VWAPMagnetConfig{
		BandMultiplier: decimal.NewFromFloat(2.0),
		MinBarsForVWAP: 30,
		TimeDecayAlpha: decimal.NewFromFloat(0.5),
		StopBufferR:    decimal.NewFromFloat(0.2),
	}
}

// VWAPMagnet fades extensions away from session VWAP using a
// volatility-scaled, time-decaying band, grounded on
// original_source/orb_confluence/strategy/playbooks/vwap_magnet.py.
type VWAPMagnet struct {
	cfg VWAPMagnetConfig
}

// NewVWAPMagnet constructs the playbook with the given config.
func NewVWAPMagnet(cfg VWAPMagnetConfig) *VWAPMagnet {
	return &VWAPMagnet{cfg: cfg}
}

func (p *VWAPMagnet) Name() string        { return "VWAP Magnet" }
func (p *VWAPMagnet) PlaybookType() string { return "mean_reversion" }
func (p *VWAPMagnet) Description() string {
	return "Mean reversion to session VWAP with a dynamic, time-decaying volatility band."
}
func (p *VWAPMagnet) PreferredRegimes() []string { return []string{"range", "transitional"} }

// CheckEntry implements vwap_magnet.py's check_entry: requires enough
// history to trust VWAP, an extension beyond the dynamic band, and a
// rejection bar (close back inside the band) signaling the extension is
// exhausting.
func (p *VWAPMagnet) CheckEntry(ctx Context) *Signal {
	if ctx.HasOpenPosition || ctx.Indicators.VWAP == nil {
		return nil
	}
	if len(ctx.RecentBars) < p.cfg.MinBarsForVWAP {
		return nil
	}

	vwap := ctx.Indicators.VWAP.Value()
	std := ctx.Indicators.VWAP.StdDev()
	if vwap.IsZero() || std.IsZero() {
		return nil
	}

	// Band narrows as the session matures: TimeDecayAlpha^(bars seen /
	// MinBarsForVWAP), floored so it never collapses to zero.
	progress := float64(len(ctx.RecentBars)) / float64(p.cfg.MinBarsForVWAP)
	decay := utils.PowDecimal(p.cfg.TimeDecayAlpha, progress)
	floor := decimal.NewFromFloat(0.3)
	if decay.LessThan(floor) {
		decay = floor
	}
	bandWidth := p.cfg.BandMultiplier.Mul(std).Mul(decay)
	upperBand := vwap.Add(bandWidth)
	lowerBand := vwap.Sub(bandWidth)

	bar := ctx.Bar
	var dir types.Direction
	var extremePrice, extension decimal.Decimal

	switch {
	case bar.High.GreaterThan(upperBand) && bar.Close.LessThan(upperBand):
		dir = types.DirectionShort
		extremePrice = bar.High
		extension = bar.High.Sub(upperBand)
	case bar.Low.LessThan(lowerBand) && bar.Close.GreaterThan(lowerBand):
		dir = types.DirectionLong
		extremePrice = bar.Low
		extension = lowerBand.Sub(bar.Low)
	default:
		return nil
	}

	regimeAlignment := RegimeAlignment(p.PreferredRegimes(), ctx.Regime)

	entry := bar.Close
	buffer := p.cfg.StopBufferR.Mul(extension)
	var stop decimal.Decimal
	if dir == types.DirectionShort {
		stop = extremePrice.Add(buffer)
	} else {
		stop = extremePrice.Sub(buffer)
	}
	risk := entry.Sub(stop).Abs()
	if risk.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	// Target the band center (VWAP) as T1, the opposite band as the runner.
	var t2 decimal.Decimal
	if dir == types.DirectionShort {
		t2 = lowerBand
	} else {
		t2 = upperBand
	}
	targets := []types.Target{
		{Price: vwap, SizeFraction: decimal.NewFromFloat(0.6), Label: "vwap"},
		{Price: t2, SizeFraction: decimal.NewFromFloat(0.4), Label: "opposite_band"},
	}

	strength := extension.Div(bandWidth)
	if strength.GreaterThan(decimal.NewFromInt(1)) {
		strength = decimal.NewFromInt(1)
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
			"vwap":       vwap,
			"band_width": bandWidth,
		},
	}
}

package playbook

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// ODRConfig parameterizes the Opening Drive Reversal playbook, grounded on
// opening_drive_reversal.py's constructor defaults.
type ODRConfig struct {
	MinDriveMinutes int
	MaxDriveMinutes int
	MinTapeDecline  decimal.Decimal // minimum relative-volume decline fraction signaling exhaustion
	StopBufferR     decimal.Decimal
}

// DefaultODRConfig mirrors opening_drive_reversal.py's defaults
// (min_drive_minutes=5, max_drive_minutes=15, min_tape_decline=0.3,
// stop_buffer_r=0.25).
func DefaultODRConfig() ODRConfig {
	return ODRConfig{
		MinDriveMinutes: 5,
		MaxDriveMinutes: 15,
		MinTapeDecline:  decimal.NewFromFloat(0.3),
		StopBufferR:     decimal.NewFromFloat(0.25),
	}
}

// OpeningDriveReversal fades an exhausted opening drive in the session's
// first MinDriveMinutes-MaxDriveMinutes window. Tape speed and volume
// delta kurtosis in the Python original are approximated here with the
// shared RelativeVolume cell's current reading falling below
// 1 - MinTapeDecline —
// the engine has no trade-level tape data, only bar volume. Grounded on
// original_source/orb_confluence/strategy/playbooks/opening_drive_reversal.py.
type OpeningDriveReversal struct {
	cfg ODRConfig
}

// NewOpeningDriveReversal constructs the playbook with the given config.
func NewOpeningDriveReversal(cfg ODRConfig) *OpeningDriveReversal {
	return &OpeningDriveReversal{cfg: cfg}
}

func (p *OpeningDriveReversal) Name() string        { return "Opening Drive Reversal" }
func (p *OpeningDriveReversal) PlaybookType() string { return "fade" }
func (p *OpeningDriveReversal) Description() string {
	return "Fades a weak, declining-volume opening drive in the first minutes of the session."
}
func (p *OpeningDriveReversal) PreferredRegimes() []string {
	return []string{"range", "volatile", "transitional", "trend"}
}

// CheckEntry implements opening_drive_reversal.py's check_entry: requires
// the current bar to fall within [MinDriveMinutes, MaxDriveMinutes] of the
// OR start, a drive range established by the OR's running high/low, a
// declining relative-volume reading (tape exhaustion proxy), and a
// reversal bar (close against the drive direction).
func (p *OpeningDriveReversal) CheckEntry(ctx Context) *Signal {
	if ctx.HasOpenPosition || ctx.OR == nil || ctx.OR.Finalized {
		return nil
	}
	elapsed := ctx.Bar.Timestamp.Sub(ctx.OR.StartTimestamp)
	minElapsed := time.Duration(p.cfg.MinDriveMinutes) * time.Minute
	maxElapsed := time.Duration(p.cfg.MaxDriveMinutes) * time.Minute
	if elapsed < minElapsed || elapsed > maxElapsed {
		return nil
	}

	width := ctx.OR.Width()
	if width.IsZero() {
		return nil
	}

	bar := ctx.Bar
	// Drive direction: where the OR's running extreme currently sits
	// relative to its start price (proxied by the first bar's open in the
	// recent window, if available).
	var dir types.Direction
	if len(ctx.RecentBars) > 0 {
		openPrice := ctx.RecentBars[0].Open
		upMove := ctx.OR.RunningHigh.Sub(openPrice)
		downMove := openPrice.Sub(ctx.OR.RunningLow)
		if upMove.GreaterThanOrEqual(downMove) {
			dir = types.DirectionShort // fade the up-drive
		} else {
			dir = types.DirectionLong // fade the down-drive
		}
	} else {
		return nil
	}

	// Tape exhaustion proxy: current relative volume below (1 -
	// MinTapeDecline) of baseline, i.e. volume has meaningfully declined
	// from the drive's norm.
	if ctx.Indicators.RelVol == nil {
		return nil
	}
	declineThreshold := decimal.NewFromInt(1).Sub(p.cfg.MinTapeDecline)
	if ctx.Indicators.RelVol.Current.GreaterThanOrEqual(declineThreshold) {
		return nil
	}

	// Reversal confirmation: bar closes against the drive direction.
	if dir == types.DirectionShort && bar.Close.GreaterThanOrEqual(bar.Open) {
		return nil
	}
	if dir == types.DirectionLong && bar.Close.LessThanOrEqual(bar.Open) {
		return nil
	}

	regimeAlignment := RegimeAlignment(p.PreferredRegimes(), ctx.Regime)

	entry := bar.Close
	buffer := p.cfg.StopBufferR.Mul(width)
	var stop decimal.Decimal
	if dir == types.DirectionShort {
		stop = ctx.OR.RunningHigh.Add(buffer)
	} else {
		stop = ctx.OR.RunningLow.Sub(buffer)
	}
	risk := entry.Sub(stop).Abs()
	if risk.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	// Target: the session open (a proxy for "opening price" in the
	// Python's target logic).
	openPrice := ctx.RecentBars[0].Open
	targets := []types.Target{
		{Price: openPrice, SizeFraction: decimal.NewFromInt(1), Label: "session_open"},
	}

	tapeDecline := decimal.NewFromInt(1).Sub(ctx.Indicators.RelVol.Current)
	strength := tapeDecline.Div(p.cfg.MinTapeDecline)
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
			"tape_decline": tapeDecline,
		},
	}
}

// Package regime supplies the market-regime label the confluence core and
// the playbooks consume (spec.md §1, §9: "core never clusters or trains;
// it only consumes a bar -> regime_label function"). The closed label set
// below mirrors the preferred_regimes vocabulary used throughout
// original_source/orb_confluence/strategy/playbooks/*.py ("RANGE",
// "TREND", "VOLATILE", "TRANSITIONAL"), lower-cased to match this
// module's string-const convention elsewhere (internal/trade.Phase,
// internal/governance.Reason).
package regime

// Label is a member of the closed regime vocabulary.
type Label string

const (
	LabelRange        Label = "range"
	LabelTrend         Label = "trend"
	LabelVolatile      Label = "volatile"
	LabelTransitional  Label = "transitional"
)

// Labeler is the contract the event loop drives once per bar: given the
// currently available indicator readings, produce a regime label and a
// clarity score in [0, 1] (spec.md §4.8's regime_clarity input to the
// portfolio sizer's regime multiplier).
type Labeler interface {
	Label(in Inputs) (Label, float64)
}

// Inputs bundles the cheap, already-computed signals a labeler needs —
// deliberately narrow so the core's indicator cells (internal/core) stay
// the single source of truth and this package never recomputes them.
type Inputs struct {
	ADXValue     float64
	ADXWeak      bool
	ATRValue     float64
	ATRBaseline  float64 // a slower-moving reference ATR, e.g. a daily average
}

// ThresholdLabeler is the default, cheap labeler: a direct threshold read
// on the ADX/ATR cells the core already maintains, with no historical
// fitting. This is the "thin, core-facing" implementation spec.md
// requires; richer classification (HMMLabeler, in hmm.go) is optional and
// external to any per-bar core operation.
type ThresholdLabeler struct {
	VolatileATRRatio decimal64 // ATR/ATRBaseline ratio above which the regime is "volatile"
}

// decimal64 avoids pulling in shopspring/decimal for a single ratio
// threshold this package never persists or feeds back into priced
// arithmetic.
type decimal64 = float64

// NewThresholdLabeler constructs a labeler with the given volatile-ATR
// ratio threshold (ATR/ATRBaseline >= ratio labels "volatile" regardless
// of trend strength).
func NewThresholdLabeler(volatileATRRatio float64) *ThresholdLabeler {
	if volatileATRRatio <= 0 {
		volatileATRRatio = 1.5
	}
	return &ThresholdLabeler{VolatileATRRatio: volatileATRRatio}
}

// Label implements Labeler.
func (t *ThresholdLabeler) Label(in Inputs) (Label, float64) {
	if in.ATRBaseline > 0 && in.ATRValue/in.ATRBaseline >= t.VolatileATRRatio {
		return LabelVolatile, clarity(in.ATRValue/in.ATRBaseline, t.VolatileATRRatio)
	}
	if !in.ADXWeak {
		return LabelTrend, clarity(in.ADXValue, 25)
	}
	if in.ADXValue < 15 {
		return LabelRange, clarity(20-in.ADXValue, 20)
	}
	return LabelTransitional, 0.5
}

// clarity squashes a raw ratio against a reference into [0, 1] via a
// simple saturating division, used where the underlying signal has no
// natural bound.
func clarity(value, reference float64) float64 {
	if reference <= 0 {
		return 0.5
	}
	c := value / reference
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

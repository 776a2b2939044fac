// Package playbook implements the four named strategy modules spec.md
// §4.6 lists for the multi-playbook orchestrator path: Initial Balance
// Fade, VWAP Magnet, Momentum Continuation, and Opening Drive Reversal.
// Grounded on original_source/orb_confluence/strategy/playbook_base.py's
// Playbook abstract base and Signal/ProfitTarget dataclasses, adapted into
// the closed-registry idiom of the teacher's
// internal/strategy.StrategyRegistry (factory-per-name map, Register at
// construction).
package playbook

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/internal/core"
	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// Signal is a playbook's proposed entry, carrying the regime-alignment and
// confidence metadata the arbitrator scores candidates on (spec.md
// §4.6-4.7).
type Signal struct {
	PlaybookName     string
	Direction        types.Direction
	EntryPrice       decimal.Decimal
	InitialStop      decimal.Decimal
	Targets          []types.Target
	Strength         decimal.Decimal
	RegimeAlignment  decimal.Decimal
	Confidence       decimal.Decimal
	Timestamp        time.Time
	Metadata         map[string]decimal.Decimal
}

// InitialRisk is |entry - stop|.
func (s Signal) InitialRisk() decimal.Decimal {
	return s.EntryPrice.Sub(s.InitialStop).Abs()
}

// Context is the read-only market state a playbook's CheckEntry consumes
// each bar: the current bar, a bounded trailing window, the finalized OR,
// the shared indicator cells, the labeled regime, and whether this
// playbook already holds an open position (a playbook never pyramids).
type Context struct {
	Bar             types.Bar
	RecentBars      []types.Bar
	OR              *core.OpeningRange
	Indicators      core.Indicators
	Regime          string
	HasOpenPosition bool
}

// Playbook is the interface every named strategy module implements
// (spec.md §4.6), paring the Python ABC down to what the engine's event
// loop actually drives: entry detection. Stop/target management after
// entry is the trade manager's job (internal/trade), not the playbook's —
// a playbook hands over a full target list and initial stop once, at
// signal time.
type Playbook interface {
	Name() string
	Description() string
	PlaybookType() string
	PreferredRegimes() []string
	CheckEntry(ctx Context) *Signal
}

// RegimeAlignment scores how well the current regime matches a playbook's
// preferred regimes: 1.0 for an exact match, 0.5 for "transitional", 0.2
// otherwise (playbook_base.py's get_regime_alignment).
func RegimeAlignment(preferred []string, regime string) decimal.Decimal {
	for _, r := range preferred {
		if r == regime {
			return decimal.NewFromInt(1)
		}
	}
	if regime == "transitional" {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromFloat(0.2)
}

// Registry is a closed factory-registry of playbooks, grounded on the
// teacher's internal/strategy.StrategyRegistry (map[string]func() Strategy
// behind a mutex).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Playbook
}

// NewRegistry constructs a registry pre-populated with the four named
// playbooks.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Playbook)}
	r.Register("initial_balance_fade", func() Playbook { return NewInitialBalanceFade(DefaultIBFadeConfig()) })
	r.Register("vwap_magnet", func() Playbook { return NewVWAPMagnet(DefaultVWAPMagnetConfig()) })
	r.Register("momentum_continuation", func() Playbook { return NewMomentumContinuation(DefaultMomentumConfig()) })
	r.Register("opening_drive_reversal", func() Playbook { return NewOpeningDriveReversal(DefaultODRConfig()) })
	return r
}

// Register adds or replaces a factory under name.
func (r *Registry) Register(name string, factory func() Playbook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build instantiates every playbook named in names, in the
// configured order, skipping any name the registry doesn't recognize.
func (r *Registry) Build(names []string) []Playbook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Playbook, 0, len(names))
	for _, name := range names {
		if factory, ok := r.factories[name]; ok {
			out = append(out, factory())
		}
	}
	return out
}

// recentRange returns the min low / max high over a trailing window of
// bars, used by the momentum and opening-drive playbooks to locate a
// structural pullback or drive extreme.
func recentRange(bars []types.Bar) (low, high decimal.Decimal) {
	if len(bars) == 0 {
		return decimal.Zero, decimal.Zero
	}
	low, high = bars[0].Low, bars[0].High
	for _, b := range bars[1:] {
		if b.Low.LessThan(low) {
			low = b.Low
		}
		if b.High.GreaterThan(high) {
			high = b.High
		}
	}
	return low, high
}

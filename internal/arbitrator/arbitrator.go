// Package arbitrator resolves conflicts when more than one playbook
// proposes a signal on the same bar (spec.md §4.7), grounded on
// original_source/orb_confluence/strategy/signal_arbitrator.py's
// SignalArbitrator: Signal_Priority = sum(w_i * F_i) over
// {regime_alignment, historical_expectancy, signal_strength,
// capital_efficiency, correlation_contribution}.
package arbitrator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/internal/playbook"
)

// DefaultWeights mirrors signal_arbitrator.py's SignalArbitrator.__init__
// factor weights exactly.
func DefaultWeights() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"regime_alignment":          decimal.NewFromFloat(0.30),
		"historical_expectancy":     decimal.NewFromFloat(0.25),
		"signal_strength":           decimal.NewFromFloat(0.20),
		"capital_efficiency":        decimal.NewFromFloat(0.15),
		"correlation_contribution":  decimal.NewFromFloat(0.10),
	}
}

// Expectancy supplies a normalized (0-1) historical-expectancy lookup for
// a playbook at a given hour of day, decoupling the arbitrator from how
// expectancy is tracked (spec.md keeps this statistic outside the core
// scoring loop). A nil Expectancy falls back to the Python's neutral 0.5.
type Expectancy interface {
	HourExpectancy(playbookName string, hour int) decimal.Decimal
}

// Scored pairs a candidate signal with its priority score and factor
// breakdown, for audit/reporting.
type Scored struct {
	Signal  playbook.Signal
	Score   decimal.Decimal
	Factors map[string]decimal.Decimal
}

// Decision is the outcome of arbitrating among candidate signals.
type Decision struct {
	Selected playbook.Signal
	Rejected []playbook.Signal
	Score    decimal.Decimal
	Factors  map[string]decimal.Decimal
}

// Arbitrator scores and selects among simultaneous playbook signals.
type Arbitrator struct {
	Weights    map[string]decimal.Decimal
	Expectancy Expectancy

	// CorrelationContribution, when set, supplies a candidate's
	// correlation_contribution factor. Like every other factor it is
	// multiplied by its weight and added to the score, so a higher value
	// favors the candidate; when nil a neutral 0.5 is used. It is a
	// pluggable scorer so the arbitrator package doesn't need to import
	// internal/portfolio.
	CorrelationContribution func(sig playbook.Signal) decimal.Decimal
}

// New constructs an Arbitrator with the default weights and a neutral
// expectancy/correlation scorer.
func New() *Arbitrator {
	return &Arbitrator{Weights: DefaultWeights()}
}

// Arbitrate scores every candidate and returns the winner plus the
// rejected set. A single candidate short-circuits scoring entirely
// (signal_arbitrator.py's "only signal available" fast path). Returns
// false if candidates is empty.
func (a *Arbitrator) Arbitrate(candidates []playbook.Signal, hour int) (Decision, bool) {
	if len(candidates) == 0 {
		return Decision{}, false
	}
	if len(candidates) == 1 {
		return Decision{Selected: candidates[0], Score: decimal.NewFromInt(1)}, true
	}

	scored := make([]Scored, 0, len(candidates))
	for _, sig := range candidates {
		score, factors := a.priorityScore(sig, hour)
		scored = append(scored, Scored{Signal: sig, Score: score, Factors: factors})
	}

	// Tie-break (spec.md §4.7): equal priority score falls back to
	// signal_strength, then to a stable playbook-registration order.
	sort.SliceStable(scored, func(i, j int) bool {
		if !scored[i].Score.Equal(scored[j].Score) {
			return scored[i].Score.GreaterThan(scored[j].Score)
		}
		return scored[i].Signal.Strength.GreaterThan(scored[j].Signal.Strength)
	})

	best := scored[0]
	rejected := make([]playbook.Signal, 0, len(scored)-1)
	for _, s := range scored[1:] {
		rejected = append(rejected, s.Signal)
	}

	return Decision{
		Selected: best.Signal,
		Rejected: rejected,
		Score:    best.Score,
		Factors:  best.Factors,
	}, true
}

func (a *Arbitrator) priorityScore(sig playbook.Signal, hour int) (decimal.Decimal, map[string]decimal.Decimal) {
	factors := map[string]decimal.Decimal{
		"regime_alignment":         sig.RegimeAlignment,
		"historical_expectancy":    a.hourExpectancy(sig.PlaybookName, hour),
		"signal_strength":          sig.Strength,
		"capital_efficiency":       a.capitalEfficiency(sig),
		"correlation_contribution": a.correlationContribution(sig),
	}

	score := decimal.Zero
	for name, value := range factors {
		w, ok := a.Weights[name]
		if !ok {
			continue
		}
		score = score.Add(w.Mul(value))
	}
	return score, factors
}

func (a *Arbitrator) hourExpectancy(playbookName string, hour int) decimal.Decimal {
	if a.Expectancy == nil {
		return decimal.NewFromFloat(0.5)
	}
	return a.Expectancy.HourExpectancy(playbookName, hour)
}

// capitalEfficiency approximates expected R per unit of risk as
// strength/confidence weighted potential: signal_arbitrator.py's
// "expected R per bar" needs a bars-held estimate the engine doesn't have
// until the trade manager runs it, so this uses the signal's own
// confidence as the best available proxy at decision time.
func (a *Arbitrator) capitalEfficiency(sig playbook.Signal) decimal.Decimal {
	return sig.Confidence
}

func (a *Arbitrator) correlationContribution(sig playbook.Signal) decimal.Decimal {
	if a.CorrelationContribution == nil {
		return decimal.NewFromFloat(0.5)
	}
	return a.CorrelationContribution(sig)
}

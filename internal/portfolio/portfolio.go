// Package portfolio sizes playbook signals for the multi-playbook
// orchestrator (spec.md §4.8), grounded on
// original_source/orb_confluence/strategy/portfolio_manager.py's
// PortfolioManager.calculate_position_size six-step cascade, generalized
// into the teacher's internal/sizing.RiskBudgetSizer idiom (an
// allocate/release pair guarding a shared heat budget). The volatility
// multiplier clamp here is [0.5, 2.0] per spec.md, matching the Python
// original exactly — a deliberate departure from the teacher's own
// VolatilityScaledSizer, which clamps to [0.1, 2.0].
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/orbconfluence/backtest-engine/internal/playbook"
)

var (
	volMultMin = decimal.NewFromFloat(0.5)
	volMultMax = decimal.NewFromFloat(2.0)

	corrMultMin = decimal.NewFromFloat(0.6)
	corrMultMax = decimal.NewFromFloat(1.0)

	regimeMultMin = decimal.NewFromFloat(0.6)
	regimeMultMax = decimal.NewFromFloat(1.0)

	defaultRealizedVol = decimal.NewFromFloat(0.015)
)

// defaultPlaybookVolMultipliers mirrors
// portfolio_manager.py's playbook_vol_multipliers table.
var defaultPlaybookVolMultipliers = map[string]decimal.Decimal{
	"Initial Balance Fade":   decimal.NewFromFloat(1.0),
	"VWAP Magnet":            decimal.NewFromFloat(0.9),
	"Momentum Continuation":  decimal.NewFromFloat(1.3),
	"Opening Drive Reversal": decimal.NewFromFloat(0.8),
}

// OpenPosition is the minimal view of a currently-open position the sizer
// needs: which playbook opened it (for correlation lookup) and its
// currently-allocated risk fraction of account size (for heat accounting).
type OpenPosition struct {
	PlaybookName string
	RiskFraction decimal.Decimal
}

// Allocation is the full sizing breakdown spec.md §4.8 requires for audit,
// grounded on PositionAllocation.
type Allocation struct {
	Signal                 playbook.Signal
	BaseSize               decimal.Decimal
	AdjustedSize           decimal.Decimal
	VolatilityMultiplier   decimal.Decimal
	CorrelationMultiplier  decimal.Decimal
	RegimeMultiplier       decimal.Decimal
	FinalSize              decimal.Decimal
	HeatBefore             decimal.Decimal
	HeatAfter              decimal.Decimal
}

// Correlation supplies a pairwise correlation lookup between two playbook
// names, in [-1, 1]. A nil Correlation treats every pair as uncorrelated.
type Correlation interface {
	Between(a, b string) (decimal.Decimal, bool)
}

// Manager sizes signals against a shared, mutex-protected portfolio heat
// budget, mirroring the teacher's RiskBudgetSizer allocate/release
// lifecycle.
type Manager struct {
	mu sync.Mutex

	PointValue           decimal.Decimal
	TargetVolatility     decimal.Decimal
	MaxPortfolioHeat     decimal.Decimal
	CorrelationThreshold decimal.Decimal
	MinRegimeClarity     decimal.Decimal
	PlaybookVolMultiplier map[string]decimal.Decimal
	Correlation          Correlation

	currentHeat decimal.Decimal
}

// NewManager constructs a Manager from the multi-playbook config values
// (account-level constants; account size and base risk are passed
// per-call since they don't vary with the manager's own state).
func NewManager(pointValue, targetVolatility, maxPortfolioHeat, correlationThreshold, minRegimeClarity decimal.Decimal) *Manager {
	return &Manager{
		PointValue:            pointValue,
		TargetVolatility:      targetVolatility,
		MaxPortfolioHeat:      maxPortfolioHeat,
		CorrelationThreshold:  correlationThreshold,
		MinRegimeClarity:      minRegimeClarity,
		PlaybookVolMultiplier: defaultPlaybookVolMultipliers,
	}
}

// ResetHeat clears the accumulated portfolio heat, called at session
// boundaries when the config enables reset_heat_per_session (spec.md
// §4.8, §4.5's shared session-reset rule).
func (m *Manager) ResetHeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentHeat = decimal.Zero
}

// Heat returns the current portfolio heat fraction.
func (m *Manager) Heat() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentHeat
}

// Size runs the six-step cascade spec.md §4.8 defines: base size, a
// volatility multiplier clamped to [0.5, 2.0], a correlation multiplier
// against open positions, a regime-clarity multiplier, the proposed size,
// and a final heat-limit scaling against the shared budget.
func (m *Manager) Size(sig playbook.Signal, accountSize, baseRisk decimal.Decimal, open []OpenPosition, regimeClarity decimal.Decimal, realizedVolatility *decimal.Decimal) Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.baseSize(sig, accountSize, baseRisk)
	volMult := m.volatilityMultiplier(sig, realizedVolatility)
	corrMult := m.correlationMultiplier(sig, open)
	regimeMult := m.regimeMultiplier(regimeClarity)

	adjusted := base.Mul(volMult).Mul(corrMult).Mul(regimeMult)

	heatBefore := m.currentHeat
	final := m.applyHeatLimit(adjusted, sig, accountSize, open)

	return Allocation{
		Signal:                sig,
		BaseSize:              base,
		AdjustedSize:          adjusted,
		VolatilityMultiplier:  volMult,
		CorrelationMultiplier: corrMult,
		RegimeMultiplier:      regimeMult,
		FinalSize:             final,
		HeatBefore:            heatBefore,
		HeatAfter:             m.currentHeat,
	}
}

func (m *Manager) baseSize(sig playbook.Signal, accountSize, baseRisk decimal.Decimal) decimal.Decimal {
	riskDollars := accountSize.Mul(baseRisk)
	riskPerContract := sig.InitialRisk().Mul(m.PointValue)
	if riskPerContract.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	size := riskDollars.Div(riskPerContract).Floor()
	if size.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return size
}

// volatilityMultiplier implements multiplier = target_vol / (realized_vol
// * playbook_vol_mult), clamped to [0.5, 2.0].
func (m *Manager) volatilityMultiplier(sig playbook.Signal, realizedVolatility *decimal.Decimal) decimal.Decimal {
	realized := defaultRealizedVol
	if realizedVolatility != nil {
		realized = *realizedVolatility
	}

	playbookMult, ok := m.PlaybookVolMultiplier[sig.PlaybookName]
	if !ok {
		playbookMult = decimal.NewFromInt(1)
	}

	combined := realized.Mul(playbookMult)
	if combined.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}

	mult := m.TargetVolatility.Div(combined)
	return clamp(mult, volMultMin, volMultMax)
}

// correlationMultiplier reduces size when the maximum absolute
// correlation with any open position's playbook exceeds
// CorrelationThreshold, scaling linearly down to 0.6x.
func (m *Manager) correlationMultiplier(sig playbook.Signal, open []OpenPosition) decimal.Decimal {
	if len(open) == 0 || m.Correlation == nil {
		return decimal.NewFromInt(1)
	}

	maxCorr := decimal.Zero
	any := false
	for _, pos := range open {
		c, ok := m.Correlation.Between(sig.PlaybookName, pos.PlaybookName)
		if !ok {
			continue
		}
		any = true
		abs := c.Abs()
		if abs.GreaterThan(maxCorr) {
			maxCorr = abs
		}
	}
	if !any || maxCorr.LessThan(m.CorrelationThreshold) {
		return decimal.NewFromInt(1)
	}

	span := decimal.NewFromInt(1).Sub(m.CorrelationThreshold)
	if span.LessThanOrEqual(decimal.Zero) {
		return corrMultMin
	}
	mult := decimal.NewFromInt(1).Sub(maxCorr.Sub(m.CorrelationThreshold).Div(span).Mul(decimal.NewFromFloat(0.4)))
	return clamp(mult, corrMultMin, corrMultMax)
}

// regimeMultiplier scales linearly from 0.6x at MinRegimeClarity to 1.0x
// at perfect clarity, with a hard floor of 0.6x below the minimum.
func (m *Manager) regimeMultiplier(regimeClarity decimal.Decimal) decimal.Decimal {
	if regimeClarity.LessThan(m.MinRegimeClarity) {
		return regimeMultMin
	}
	span := decimal.NewFromInt(1).Sub(m.MinRegimeClarity)
	if span.LessThanOrEqual(decimal.Zero) {
		return regimeMultMax
	}
	mult := regimeMultMin.Add(regimeClarity.Sub(m.MinRegimeClarity).Div(span).Mul(decimal.NewFromFloat(0.4)))
	return clamp(mult, regimeMultMin, regimeMultMax)
}

// applyHeatLimit scales the proposed size down to fit the remaining
// portfolio heat budget, updating the manager's running heat total.
func (m *Manager) applyHeatLimit(proposedSize decimal.Decimal, sig playbook.Signal, accountSize decimal.Decimal, open []OpenPosition) decimal.Decimal {
	proposedRiskDollars := proposedSize.Mul(sig.InitialRisk()).Mul(m.PointValue)
	proposedRiskPct := proposedRiskDollars.Div(accountSize)

	currentRisk := decimal.Zero
	for _, pos := range open {
		currentRisk = currentRisk.Add(pos.RiskFraction)
	}

	totalRisk := currentRisk.Add(proposedRiskPct)
	if totalRisk.LessThanOrEqual(m.MaxPortfolioHeat) {
		m.currentHeat = totalRisk
		return proposedSize.Floor()
	}

	availableRisk := m.MaxPortfolioHeat.Sub(currentRisk)
	if availableRisk.LessThanOrEqual(decimal.Zero) {
		m.currentHeat = currentRisk
		return decimal.Zero
	}

	scaleFactor := availableRisk.Div(proposedRiskPct)
	scaledSize := proposedSize.Mul(scaleFactor).Floor()
	m.currentHeat = currentRisk.Add(availableRisk)
	return scaledSize
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

package regime

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// HMMLabeler is a richer, statistically-fitted regime classifier adapted
// from the teacher's internal/regime.RegimeDetector (a hidden Markov
// model over returns/volatility with a fixed transition matrix and
// per-state Gaussian emissions). It is explicitly NOT wired into the
// core's per-bar path (spec.md §9: "core never clusters or trains") —
// callers that want richer labels than ThresholdLabeler run this
// separately and feed its output in as a pre-computed label stream, the
// same way the teacher's dashboard consumed RegimeDetector.GetState()
// out-of-band from the backtest loop.
type HMMLabeler struct {
	logger *zap.Logger

	mu         sync.Mutex
	returns    []float64
	windowSize int

	// Per-state Gaussian emission parameters, one state per Label in
	// stateOrder.
	emissionMeans []float64
	emissionVars  []float64
	stateOrder    []Label

	lastProbabilities []float64
}

var hmmStateOrder = []Label{LabelRange, LabelTrend, LabelVolatile, LabelTransitional}

// NewHMMLabeler constructs an HMM labeler with a fixed window of recent
// returns and the teacher's default per-state emission parameters,
// re-centered for this module's four-label vocabulary in place of the
// teacher's eight-regime set.
func NewHMMLabeler(logger *zap.Logger, windowSize int) *HMMLabeler {
	if windowSize <= 0 {
		windowSize = 60
	}
	return &HMMLabeler{
		logger:     logger,
		windowSize: windowSize,
		stateOrder: hmmStateOrder,
		// range: low mean, low var. trend: nonzero mean, moderate var.
		// volatile: near-zero mean, high var. transitional: near-zero
		// mean, moderate var.
		emissionMeans: []float64{0.0, 0.0015, 0.0, 0.0},
		emissionVars:  []float64{0.00005, 0.0002, 0.002, 0.0005},
	}
}

// Observe folds a bar-to-bar log return into the rolling window.
func (h *HMMLabeler) Observe(logReturn float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.returns = append(h.returns, logReturn)
	if len(h.returns) > h.windowSize {
		h.returns = h.returns[len(h.returns)-h.windowSize:]
	}
}

// Classify returns the most probable regime label and its posterior
// probability, computed from a single-pass Gaussian emission likelihood
// over the current window (a simplified stand-in for the teacher's full
// forward-backward HMM smoothing, adequate for an out-of-band labeler
// that isn't on the engine's per-bar hot path).
func (h *HMMLabeler) Classify() (Label, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.returns) < 2 {
		return LabelTransitional, 0.0
	}

	mean, variance := meanVariance(h.returns)

	likelihoods := make([]float64, len(h.stateOrder))
	sum := 0.0
	for i := range h.stateOrder {
		likelihoods[i] = gaussianLikelihood(mean, h.emissionMeans[i], variance+h.emissionVars[i])
		sum += likelihoods[i]
	}

	if sum <= 0 {
		return LabelTransitional, 0.0
	}

	probs := make([]float64, len(likelihoods))
	best := 0
	for i, l := range likelihoods {
		probs[i] = l / sum
		if probs[i] > probs[best] {
			best = i
		}
	}
	h.lastProbabilities = probs

	return h.stateOrder[best], probs[best]
}

func meanVariance(xs []float64) (mean, variance float64) {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	sqSum := 0.0
	for _, x := range xs {
		d := x - mean
		sqSum += d * d
	}
	variance = sqSum / float64(len(xs))
	return mean, variance
}

func gaussianLikelihood(x, mean, variance float64) float64 {
	if variance <= 0 {
		variance = 1e-9
	}
	d := x - mean
	return math.Exp(-(d*d)/(2*variance)) / math.Sqrt(2*math.Pi*variance)
}

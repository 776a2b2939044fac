// Package engine implements the deterministic, single-threaded bar-by-bar
// event loop spec.md §4.9 and §5 describe, grounded on the teacher's
// internal/backtester.Engine (mutex-protected struct, atomic
// running/cancelled flags, a buffered progress channel, Run/Cancel/
// GetProgress/ProgressChan), re-targeted from a priority event queue of
// market-data/signal/order/fill events onto a single ordered bar stream —
// this domain has no separate order/fill latency to model, so the
// teacher's multi-event-type dispatch collapses into one per-bar
// sequence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/arbitrator"
	"github.com/orbconfluence/backtest-engine/internal/barsrc"
	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/internal/core"
	"github.com/orbconfluence/backtest-engine/internal/governance"
	"github.com/orbconfluence/backtest-engine/internal/playbook"
	"github.com/orbconfluence/backtest-engine/internal/portfolio"
	"github.com/orbconfluence/backtest-engine/internal/regime"
	"github.com/orbconfluence/backtest-engine/internal/telemetry"
	"github.com/orbconfluence/backtest-engine/internal/trade"
	"github.com/orbconfluence/backtest-engine/pkg/types"
	"github.com/orbconfluence/backtest-engine/pkg/utils"
)

// recentBarWindow bounds how much bar history playbooks and the
// momentum/opening-drive setups see, matching the memory discipline
// spec.md §5 requires of the core.
const recentBarWindow = 120

// progressInterval mirrors the teacher's "send progress every 10000
// events" cadence, scaled down to bars since a bar here carries far more
// weight than one queued event there.
const progressInterval = 500

// Progress reports the engine's state while a run is in flight.
type Progress struct {
	Status         string
	BarsProcessed  uint64
	CurrentTime    time.Time
	TradesClosed   int
	CumulativeR    decimal.Decimal
}

// Result is the outcome of a completed run.
type Result struct {
	ClosedTrades []*trade.Active
	EquityCurve  []types.EquityPoint
	BarsProcessed uint64
	Duration     time.Duration
}

// Engine replays a bar source through the confluence core, the trade
// manager, governance, and — when configured — the multi-playbook
// orchestrator, producing a deterministic trade ledger and equity curve.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Root
	source barsrc.Source

	recorder telemetry.Recorder
	labeler  regime.Labeler
	corr     portfolio.Correlation

	mu              sync.RWMutex
	running         atomic.Bool
	cancelled       atomic.Bool
	barsProcessed   atomic.Uint64
	currentTime     time.Time
	progressChan    chan Progress

	// per-run state, reset in Run
	or          *core.OpeningRange
	atr         *core.ATR
	vwap        *core.SessionVWAP
	relVol      *core.RelativeVolume
	adx         *core.ADX
	recentBars  []types.Bar
	governance  *governance.State
	tradeMgr    trade.Manager
	playbooks   []playbook.Playbook
	registry    *playbook.Registry
	arbiter     *arbitrator.Arbitrator
	sizer       *portfolio.Manager

	activeTrade  *trade.Active   // single-strategy mode
	activeTrades []*trade.Active // multi-playbook mode

	cumulativeR decimal.Decimal
	closed      []*trade.Active
	equity      []types.EquityPoint
}

// New constructs an Engine. recorder and labeler may be nil, in which
// case telemetry.NoOp{} and a default regime.ThresholdLabeler are used.
func New(logger *zap.Logger, cfg *config.Root, source barsrc.Source, recorder telemetry.Recorder, labeler regime.Labeler) *Engine {
	if recorder == nil {
		recorder = telemetry.NoOp{}
	}
	if labeler == nil {
		labeler = regime.NewThresholdLabeler(1.5)
	}
	return &Engine{
		logger:       logger,
		cfg:          cfg,
		source:       source,
		recorder:     recorder,
		labeler:      labeler,
		progressChan: make(chan Progress, 100),
		registry:     playbook.NewRegistry(),
	}
}

// Cancel requests the in-flight run stop at the next bar boundary.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// GetProgress returns a snapshot of the current run state.
func (e *Engine) GetProgress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := "idle"
	if e.running.Load() {
		status = "running"
	}
	return Progress{
		Status:        status,
		BarsProcessed: e.barsProcessed.Load(),
		CurrentTime:   e.currentTime,
		TradesClosed:  len(e.closed),
		CumulativeR:   e.cumulativeR,
	}
}

// ProgressChan returns the channel progress snapshots are pushed to.
func (e *Engine) ProgressChan() <-chan Progress {
	return e.progressChan
}

// Run replays the bar source to completion, applying the event loop's
// deterministic per-bar sequence (spec.md §4.9): advance bar, update the
// OR and indicator cells, finalize the OR once due, skip signal
// generation until the OR is finalized and valid, update any active
// trade(s) or generate new signals, append the equity curve, and repeat.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running.Load() {
		e.mu.Unlock()
		return nil, errors.New("engine already running")
	}
	e.running.Store(true)
	e.cancelled.Store(false)
	e.resetRunState()
	e.mu.Unlock()

	defer e.running.Store(false)
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if e.cancelled.Load() {
			return nil, errors.New("run cancelled")
		}

		bar, err := e.source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading next bar: %w", err)
		}

		if err := e.processBar(bar); err != nil {
			return nil, err
		}

		n := e.barsProcessed.Add(1)
		e.currentTime = bar.Timestamp
		e.recorder.RecordBar()
		if n%progressInterval == 0 {
			e.pushProgress()
		}
	}

	e.pushProgress()
	return &Result{
		ClosedTrades:  e.closed,
		EquityCurve:   e.equity,
		BarsProcessed: e.barsProcessed.Load(),
		Duration:      time.Since(start),
	}, nil
}

func (e *Engine) pushProgress() {
	select {
	case e.progressChan <- e.GetProgress():
	default:
	}
}

func (e *Engine) resetRunState() {
	e.or = nil
	e.atr = core.NewATR(e.cfg.OpeningRange.ATRPeriod)
	e.vwap = &core.SessionVWAP{}
	e.relVol = core.NewRelativeVolume(20, decimal.NewFromFloat(2.0))
	e.adx = core.NewADX(14, decimal.NewFromInt(20))
	e.recentBars = nil
	e.governance = governance.New(e.cfg.Governance)
	e.tradeMgr = trade.Manager{
		ConservativeFills: e.cfg.Trade.ConservativeFills,
		MoveBEAtR:         e.cfg.Trade.MoveBEAtR,
		BEBuffer:          e.cfg.Trade.BEBuffer,
		TrailingEnabled:   e.cfg.Trade.Trailing.Enabled,
		TrailingStartR:    e.cfg.Trade.Trailing.StartR,
		TrailingDistanceR: e.cfg.Trade.Trailing.DistanceR,
	}
	e.activeTrade = nil
	e.activeTrades = nil
	e.cumulativeR = decimal.Zero
	e.closed = nil
	e.equity = nil
	e.barsProcessed.Store(0)

	if e.cfg.MultiPlaybook != nil {
		names := make([]string, 0, len(e.cfg.MultiPlaybook.Playbooks))
		for _, pc := range e.cfg.MultiPlaybook.Playbooks {
			if pc.Enabled {
				names = append(names, pc.Name)
			}
		}
		e.playbooks = e.registry.Build(names)

		weights := e.cfg.MultiPlaybook.ArbitratorWeights
		if len(weights) == 0 {
			weights = arbitrator.DefaultWeights()
		}
		e.arbiter = &arbitrator.Arbitrator{Weights: weights, CorrelationContribution: func(playbook.Signal) decimal.Decimal {
			return decimal.NewFromFloat(0.5)
		}}

		e.sizer = portfolio.NewManager(
			e.cfg.MultiPlaybook.PointValue,
			e.cfg.MultiPlaybook.TargetVolatility,
			e.cfg.MultiPlaybook.MaxPortfolioHeat,
			e.cfg.MultiPlaybook.CorrelationThreshold,
			e.cfg.MultiPlaybook.MinRegimeClarity,
		)
		e.sizer.Correlation = e.corr
	}
}

func (e *Engine) isNewSession(ts time.Time) bool {
	return e.or == nil || ts.Sub(e.or.StartTimestamp) < 0
}

func (e *Engine) startSession(ts time.Time) {
	e.or = core.NewOpeningRange(ts, time.Duration(e.cfg.OpeningRange.BaseMinutes)*time.Minute)
	e.vwap.Reset()
	e.governance.ResetSession()
	if e.sizer != nil && e.cfg.MultiPlaybook.ResetHeatPerSession {
		e.sizer.ResetHeat()
	}
}

// processBar runs the deterministic per-bar sequence for a single
// observation.
func (e *Engine) processBar(bar types.Bar) error {
	if e.sessionBoundaryCrossed(bar.Timestamp) {
		e.startSession(bar.Timestamp)
	}

	e.or.Update(bar.Timestamp, bar.High, bar.Low)
	e.atr.Update(bar.High, bar.Low, bar.Close)
	e.or.FinalizeIfDue(bar.Timestamp, e.atr.Value, e.cfg.OpeningRange.Validity.MinATRMult, e.cfg.OpeningRange.Validity.MaxATRMult, e.cfg.OpeningRange.Validity.Enabled)

	typical := bar.High.Add(bar.Low).Add(bar.Close).Div(decimal.NewFromInt(3))
	e.vwap.Update(typical, bar.Volume)
	e.relVol.Update(bar.Volume)
	e.adx.Update(bar.High, bar.Low, bar.Close)

	if e.governance.ShouldFlatten(bar.Timestamp) {
		e.flattenAll(bar)
	}

	if e.cfg.MultiPlaybook == nil {
		e.stepSingleStrategy(bar)
	} else {
		e.stepMultiPlaybook(bar)
	}

	e.pushRecentBar(bar)
	e.appendEquityPoint(bar)
	return nil
}

func (e *Engine) sessionBoundaryCrossed(ts time.Time) bool {
	if e.or == nil {
		return true
	}
	sessionEnd := e.or.StartTimestamp.Add(24 * time.Hour)
	return !ts.Before(sessionEnd)
}

func (e *Engine) pushRecentBar(bar types.Bar) {
	e.recentBars = append(e.recentBars, bar)
	if len(e.recentBars) > recentBarWindow {
		e.recentBars = e.recentBars[len(e.recentBars)-recentBarWindow:]
	}
}

func (e *Engine) appendEquityPoint(bar types.Bar) {
	e.equity = append(e.equity, types.EquityPoint{
		Timestamp:   bar.Timestamp,
		CumulativeR: e.cumulativeR,
		BarIndex:    int(e.barsProcessed.Load()),
	})
	r, _ := e.cumulativeR.Float64()
	e.recorder.RecordEquity(r)
}

func (e *Engine) flattenAll(bar types.Bar) {
	if e.activeTrade != nil && e.activeTrade.IsOpen() {
		e.tradeMgr.CloseForGovernance(e.activeTrade, bar.Timestamp, bar.Close, types.ExitReasonEOD)
		e.closeTrade(e.activeTrade)
		e.activeTrade = nil
	}
	for _, at := range e.activeTrades {
		if at.IsOpen() {
			e.tradeMgr.CloseForGovernance(at, bar.Timestamp, bar.Close, types.ExitReasonEOD)
			e.closeTrade(at)
		}
	}
}

func (e *Engine) closeTrade(t *trade.Active) {
	e.closed = append(e.closed, t)
	e.cumulativeR = e.cumulativeR.Add(t.RealizedR)
	wasFullStop := t.ExitReason == types.ExitReasonStop && len(t.PartialsFilled) == 0
	e.governance.RecordTradeClosed(t.RealizedR, wasFullStop)
	rF, _ := t.RealizedR.Float64()
	e.recorder.RecordTradeClosed(t.ExitReason, t.Direction, rF)
}

// stepSingleStrategy implements the single-strategy half of spec.md
// §4.9's branch: manage the one active trade, or generate a single
// confluence-gated signal once the OR is finalized and valid.
func (e *Engine) stepSingleStrategy(bar types.Bar) {
	if e.activeTrade != nil && e.activeTrade.IsOpen() {
		res := e.tradeMgr.Update(e.activeTrade, bar)
		if res.Closed {
			e.closeTrade(e.activeTrade)
			e.activeTrade = nil
		}
		return
	}

	if e.or == nil || !e.or.Finalized || !e.or.Valid {
		return
	}

	allow, reason := e.governance.AllowSignal(bar.Timestamp)
	if !allow {
		e.recorder.RecordGovernanceSuppression(string(reason))
		return
	}

	upper, lower := e.triggerPrices()
	longTriggered := bar.High.GreaterThanOrEqual(upper)
	shortTriggered := bar.Low.LessThanOrEqual(lower)
	if !longTriggered && !shortTriggered {
		return
	}

	ind := core.Indicators{RelVol: e.relVol, VWAP: e.vwap, ADX: e.adx, ATR: e.atr}
	long, short := core.EvaluateBoth(bar, e.or, ind, &e.cfg.Scoring, e.adx.TrendWeak)
	long.Passes = long.Passes && longTriggered
	short.Passes = short.Passes && shortTriggered
	sel, ok := core.Select(long, short, e.cfg.Scoring.TiePriority)
	if !ok {
		return
	}

	trigger := upper
	if sel.Direction == types.DirectionShort {
		trigger = lower
	}
	entryPrice := conservativeEntry(sel.Direction, bar.Open, trigger)

	stop := e.computeStop(bar, sel.Direction)
	risk := entryPrice.Sub(stop).Abs()
	if risk.LessThanOrEqual(decimal.Zero) {
		return
	}
	targets := e.computeTargets(entryPrice, stop, sel.Direction, risk)

	sig := trade.Signal{
		SignalID:           utils.GenerateSignalID(),
		Direction:          sel.Direction,
		Timestamp:          bar.Timestamp,
		EntryPrice:         entryPrice,
		ConfluenceScore:    sel.Score,
		ConfluenceRequired: sel.Required,
		ORHigh:             e.or.RunningHigh,
		ORLow:              e.or.RunningLow,
	}
	e.activeTrade = trade.New(utils.GenerateTradeID(), sig, stop, targets)
	e.governance.RecordSignalEmitted()
	e.recorder.RecordSignal("single_strategy", sel.Direction)
}

// stepMultiPlaybook implements the orchestrator half of spec.md §4.9:
// update every open trade, then — capacity and governance permitting —
// poll each enabled playbook, arbitrate among candidates, size the
// winner, and open it.
func (e *Engine) stepMultiPlaybook(bar types.Bar) {
	stillOpen := e.activeTrades[:0]
	for _, at := range e.activeTrades {
		if !at.IsOpen() {
			continue
		}
		res := e.tradeMgr.Update(at, bar)
		if res.Closed {
			e.closeTrade(at)
			continue
		}
		stillOpen = append(stillOpen, at)
	}
	e.activeTrades = stillOpen

	if len(e.activeTrades) >= e.cfg.MultiPlaybook.MaxSimultaneousPositions {
		return
	}
	if e.or == nil || !e.or.Finalized || !e.or.Valid {
		return
	}

	allow, reason := e.governance.AllowSignal(bar.Timestamp)
	if !allow {
		e.recorder.RecordGovernanceSuppression(string(reason))
		return
	}

	ind := core.Indicators{RelVol: e.relVol, VWAP: e.vwap, ADX: e.adx, ATR: e.atr}
	regimeLabel, clarity := e.labeler.Label(regime.Inputs{
		ADXValue:    mustFloat(e.adx.Value),
		ADXWeak:     e.adx.TrendWeak,
		ATRValue:    mustFloat(e.atr.Value),
		ATRBaseline: mustFloat(e.atr.Value),
	})
	if decimal.NewFromFloat(clarity).LessThan(e.cfg.MultiPlaybook.MinRegimeClarity) {
		return
	}

	openByName := make(map[string]bool, len(e.activeTrades))
	for _, at := range e.activeTrades {
		openByName[at.Signal.PlaybookName] = true
	}

	var candidates []playbook.Signal
	pbCtx := playbook.Context{Bar: bar, RecentBars: e.recentBars, OR: e.or, Indicators: ind, Regime: string(regimeLabel)}
	for _, pb := range e.playbooks {
		pbCtx.HasOpenPosition = openByName[pb.Name()]
		if sig := pb.CheckEntry(pbCtx); sig != nil {
			candidates = append(candidates, *sig)
		}
	}
	if len(candidates) == 0 {
		return
	}

	decision, ok := e.arbiter.Arbitrate(candidates, bar.Timestamp.Hour())
	if !ok {
		return
	}

	open := make([]portfolio.OpenPosition, 0, len(e.activeTrades))
	for _, at := range e.activeTrades {
		riskFrac := at.InitialRisk.Div(e.cfg.MultiPlaybook.AccountSize)
		open = append(open, portfolio.OpenPosition{PlaybookName: at.Signal.PlaybookName, RiskFraction: riskFrac})
	}

	alloc := e.sizer.Size(decision.Selected, e.cfg.MultiPlaybook.AccountSize, e.cfg.MultiPlaybook.BaseRisk, open, decimal.NewFromFloat(clarity), nil)
	heatF, _ := alloc.HeatAfter.Float64()
	e.recorder.RecordPortfolioHeat(heatF)
	if alloc.FinalSize.LessThanOrEqual(decimal.Zero) {
		return
	}

	sel := decision.Selected
	sig := trade.Signal{
		SignalID:           utils.GenerateSignalID(),
		Direction:          sel.Direction,
		Timestamp:          sel.Timestamp,
		EntryPrice:         sel.EntryPrice,
		ConfluenceScore:    sel.Confidence,
		ConfluenceRequired: e.cfg.MultiPlaybook.MinRegimeClarity,
		ORHigh:             e.or.RunningHigh,
		ORLow:              e.or.RunningLow,
		PlaybookName:       sel.PlaybookName,
	}
	newTrade := trade.New(utils.GenerateTradeID(), sig, sel.InitialStop, sel.Targets)
	e.activeTrades = append(e.activeTrades, newTrade)
	e.governance.RecordSignalEmitted()
	e.recorder.RecordSignal(sel.PlaybookName, sel.Direction)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// computeStop places the initial stop per the configured StopMode
// (spec.md §4.3): the OR's opposite boundary, a recent swing extreme, or
// an ATR-capped distance from entry, plus the configured extra buffer.
func (e *Engine) computeStop(bar types.Bar, dir types.Direction) decimal.Decimal {
	buffer := e.stopBuffer()
	switch e.cfg.Trade.StopMode {
	case config.StopModeSwing:
		low, high := swingExtreme(e.recentBars)
		if dir == types.DirectionLong {
			return low.Sub(buffer)
		}
		return high.Add(buffer)
	case config.StopModeATRCapped:
		capped := e.atr.Value
		if dir == types.DirectionLong {
			return bar.Close.Sub(capped).Sub(buffer)
		}
		return bar.Close.Add(capped).Add(buffer)
	default: // StopModeORPOpposite
		if dir == types.DirectionLong {
			return e.or.RunningLow.Sub(buffer)
		}
		return e.or.RunningHigh.Add(buffer)
	}
}

func (e *Engine) stopBuffer() decimal.Decimal {
	buf := e.cfg.Buffers.Fixed
	if e.cfg.Buffers.UseATR {
		buf = e.cfg.Buffers.ATRMult.Mul(e.atr.Value)
	}
	return buf.Add(e.cfg.Trade.ExtraStopBuffer)
}

// triggerPrices computes the signal detector's breakout trigger levels
// (spec.md §4.3): upper = OR_high + buffer, lower = OR_low - buffer,
// using the same configured buffer distance as the initial stop.
func (e *Engine) triggerPrices() (upper, lower decimal.Decimal) {
	buffer := e.stopBuffer()
	return e.or.RunningHigh.Add(buffer), e.or.RunningLow.Sub(buffer)
}

// conservativeEntry applies spec.md §4.3's conservative fill: signal
// price is the trigger price, unless the bar opens beyond the trigger,
// in which case entry is the bar's open.
func conservativeEntry(dir types.Direction, barOpen, trigger decimal.Decimal) decimal.Decimal {
	if dir == types.DirectionLong {
		if barOpen.GreaterThan(trigger) {
			return barOpen
		}
		return trigger
	}
	if barOpen.LessThan(trigger) {
		return barOpen
	}
	return trigger
}

func swingExtreme(bars []types.Bar) (low, high decimal.Decimal) {
	const swingLookback = 5
	window := bars
	if len(window) > swingLookback {
		window = window[len(window)-swingLookback:]
	}
	if len(window) == 0 {
		return decimal.Zero, decimal.Zero
	}
	low, high = window[0].Low, window[0].High
	for _, b := range window[1:] {
		if b.Low.LessThan(low) {
			low = b.Low
		}
		if b.High.GreaterThan(high) {
			high = b.High
		}
	}
	return low, high
}

// computeTargets builds the target list from the configured R-multiples
// and size fractions (spec.md §4.3), either a single primary target or a
// T1/T2/runner partial ladder.
func (e *Engine) computeTargets(entry, stop decimal.Decimal, dir types.Direction, risk decimal.Decimal) []types.Target {
	sign := decimal.NewFromInt(1)
	if dir == types.DirectionShort {
		sign = decimal.NewFromInt(-1)
	}
	at := func(r decimal.Decimal) decimal.Decimal {
		return entry.Add(sign.Mul(r).Mul(risk))
	}

	if !e.cfg.Trade.Partials {
		return []types.Target{{Price: at(e.cfg.Trade.PrimaryR), SizeFraction: decimal.NewFromInt(1), Label: "primary"}}
	}

	targets := []types.Target{{Price: at(e.cfg.Trade.T1R), SizeFraction: e.cfg.Trade.T1Pct, Label: "t1"}}
	remaining := decimal.NewFromInt(1).Sub(e.cfg.Trade.T1Pct)
	if !e.cfg.Trade.T2R.IsZero() && !e.cfg.Trade.T2Pct.IsZero() {
		targets = append(targets, types.Target{Price: at(e.cfg.Trade.T2R), SizeFraction: e.cfg.Trade.T2Pct, Label: "t2"})
		remaining = remaining.Sub(e.cfg.Trade.T2Pct)
	}
	if remaining.GreaterThan(decimal.Zero) && !e.cfg.Trade.RunnerR.IsZero() {
		targets = append(targets, types.Target{Price: at(e.cfg.Trade.RunnerR), SizeFraction: remaining, Label: "runner"})
	}
	return targets
}

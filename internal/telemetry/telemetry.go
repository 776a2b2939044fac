// Package telemetry exposes the engine's run metrics over Prometheus, in
// the package-level CounterVec/Gauge idiom of
// _examples/chidi150c-coinbase/metrics.go (bot_orders_total,
// bot_equity_usd, bot_trades_total, bot_exit_reasons_total). The engine
// writes to a Recorder interface post-bar and post-trade; a no-op
// default keeps the core usable without a metrics server (spec.md's
// Ambient Stack: metrics are an observability add-on, never load-bearing
// for a run's outcome).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// Recorder is the interface the engine writes metrics through.
type Recorder interface {
	RecordBar()
	RecordSignal(playbookName string, direction types.Direction)
	RecordTradeClosed(reason types.ExitReason, direction types.Direction, realizedR float64)
	RecordEquity(cumulativeR float64)
	RecordGovernanceSuppression(reason string)
	RecordPortfolioHeat(heat float64)
}

// NoOp satisfies Recorder with no side effects, the default when no
// metrics server is configured.
type NoOp struct{}

func (NoOp) RecordBar()                                                         {}
func (NoOp) RecordSignal(string, types.Direction)                               {}
func (NoOp) RecordTradeClosed(types.ExitReason, types.Direction, float64)        {}
func (NoOp) RecordEquity(float64)                                               {}
func (NoOp) RecordGovernanceSuppression(string)                                 {}
func (NoOp) RecordPortfolioHeat(float64)                                        {}

// Prom is a Recorder backed by registered Prometheus collectors.
type Prom struct {
	bars                prometheus.Counter
	signals             *prometheus.CounterVec
	tradesClosed        *prometheus.CounterVec
	equity              prometheus.Gauge
	governanceSuppress  *prometheus.CounterVec
	portfolioHeat       prometheus.Gauge
}

// NewProm constructs and registers the engine's Prometheus collectors
// against reg. Pass prometheus.NewRegistry() for an isolated registry (as
// internal/api's reporting server does) or prometheus.DefaultRegisterer
// for process-global export.
func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		bars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orb_bars_processed_total",
			Help: "Bars processed by the event loop.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orb_signals_total",
			Help: "Signals generated, by playbook and direction.",
		}, []string{"playbook", "direction"}),
		tradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orb_trades_closed_total",
			Help: "Trades closed, by exit reason and direction.",
		}, []string{"reason", "direction"}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orb_cumulative_r",
			Help: "Running cumulative realized R for the current run.",
		}),
		governanceSuppress: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orb_governance_suppressions_total",
			Help: "Signals suppressed by the governance layer, by reason.",
		}, []string{"reason"}),
		portfolioHeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orb_portfolio_heat",
			Help: "Current portfolio heat fraction.",
		}),
	}

	reg.MustRegister(p.bars, p.signals, p.tradesClosed, p.equity, p.governanceSuppress, p.portfolioHeat)
	return p
}

func (p *Prom) RecordBar() {
	p.bars.Inc()
}

func (p *Prom) RecordSignal(playbookName string, direction types.Direction) {
	p.signals.WithLabelValues(playbookName, string(direction)).Inc()
}

func (p *Prom) RecordTradeClosed(reason types.ExitReason, direction types.Direction, realizedR float64) {
	p.tradesClosed.WithLabelValues(string(reason), string(direction)).Inc()
}

func (p *Prom) RecordEquity(cumulativeR float64) {
	p.equity.Set(cumulativeR)
}

func (p *Prom) RecordGovernanceSuppression(reason string) {
	p.governanceSuppress.WithLabelValues(reason).Inc()
}

func (p *Prom) RecordPortfolioHeat(heat float64) {
	p.portfolioHeat.Set(heat)
}

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/orbconfluence/backtest-engine/pkg/types"
)

func TestNoOpSatisfiesRecorderWithoutPanicking(t *testing.T) {
	var r Recorder = NoOp{}
	r.RecordBar()
	r.RecordSignal("Initial Balance Fade", types.DirectionLong)
	r.RecordTradeClosed(types.ExitReasonStop, types.DirectionLong, -1.0)
	r.RecordEquity(2.5)
	r.RecordGovernanceSuppression("lockout")
	r.RecordPortfolioHeat(0.04)
}

func TestPromRecordBarIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RecordBar()
	p.RecordBar()

	if got := testutil.ToFloat64(p.bars); got != 2 {
		t.Fatalf("bars counter = %f, want 2", got)
	}
}

func TestPromRecordSignalLabelsByPlaybookAndDirection(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RecordSignal("VWAP Magnet", types.DirectionShort)

	got := testutil.ToFloat64(p.signals.WithLabelValues("VWAP Magnet", "short"))
	if got != 1 {
		t.Fatalf("signal count for VWAP Magnet/short = %f, want 1", got)
	}
}

func TestPromRecordTradeClosedLabelsByReasonAndDirection(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RecordTradeClosed(types.ExitReasonTarget, types.DirectionLong, 1.5)

	got := testutil.ToFloat64(p.tradesClosed.WithLabelValues("target", "long"))
	if got != 1 {
		t.Fatalf("trade closed count for target/long = %f, want 1", got)
	}
}

func TestPromRecordEquitySetsGaugeToLatestValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RecordEquity(1.0)
	p.RecordEquity(3.5)

	if got := testutil.ToFloat64(p.equity); got != 3.5 {
		t.Fatalf("equity gauge = %f, want 3.5 (gauge, not cumulative)", got)
	}
}

func TestPromRecordGovernanceSuppressionLabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RecordGovernanceSuppression("max_signals_per_day")
	p.RecordGovernanceSuppression("max_signals_per_day")

	got := testutil.ToFloat64(p.governanceSuppress.WithLabelValues("max_signals_per_day"))
	if got != 2 {
		t.Fatalf("governance suppression count = %f, want 2", got)
	}
}

func TestPromRecordPortfolioHeatSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RecordPortfolioHeat(0.06)
	if got := testutil.ToFloat64(p.portfolioHeat); got != 0.06 {
		t.Fatalf("portfolio heat gauge = %f, want 0.06", got)
	}
}

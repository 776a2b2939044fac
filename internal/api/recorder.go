package api

import (
	"github.com/orbconfluence/backtest-engine/internal/telemetry"
	"github.com/orbconfluence/backtest-engine/pkg/types"
)

// hubRecorder satisfies telemetry.Recorder by forwarding every event to
// an inner Recorder and publishing the signal, trade-closed, governance
// and portfolio-heat events to the hub under the owning run's ID, giving
// WebSocket clients a live feed of the same signal/trade/heat events
// internal/telemetry would otherwise only expose as Prometheus counters.
// Bar and equity events go to the inner Recorder only. It wraps the inner
// Recorder (a
// *telemetry.Prom when metrics are also enabled, telemetry.NoOp
// otherwise) so the two concerns compose instead of competing.
type hubRecorder struct {
	hub   *Hub
	runID string
	inner telemetry.Recorder
}

func newHubRecorder(hub *Hub, runID string, inner telemetry.Recorder) *hubRecorder {
	if inner == nil {
		inner = telemetry.NoOp{}
	}
	return &hubRecorder{hub: hub, runID: runID, inner: inner}
}

func (r *hubRecorder) RecordBar() {
	r.inner.RecordBar()
}

func (r *hubRecorder) RecordSignal(playbookName string, direction types.Direction) {
	r.inner.RecordSignal(playbookName, direction)
	r.hub.Publish(r.runID, EventSignal, map[string]interface{}{
		"playbook":  playbookName,
		"direction": direction,
	})
}

func (r *hubRecorder) RecordTradeClosed(reason types.ExitReason, direction types.Direction, realizedR float64) {
	r.inner.RecordTradeClosed(reason, direction, realizedR)
	r.hub.Publish(r.runID, EventTradeClosed, map[string]interface{}{
		"reason":    reason,
		"direction": direction,
		"realizedR": realizedR,
	})
}

func (r *hubRecorder) RecordEquity(cumulativeR float64) {
	r.inner.RecordEquity(cumulativeR)
}

func (r *hubRecorder) RecordGovernanceSuppression(reason string) {
	r.inner.RecordGovernanceSuppression(reason)
	r.hub.Publish(r.runID, EventGovernance, map[string]interface{}{"reason": reason})
}

func (r *hubRecorder) RecordPortfolioHeat(heat float64) {
	r.inner.RecordPortfolioHeat(heat)
	r.hub.Publish(r.runID, EventPortfolioHeat, map[string]interface{}{"heat": heat})
}

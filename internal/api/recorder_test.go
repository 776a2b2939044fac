package api

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/telemetry"
	"github.com/orbconfluence/backtest-engine/pkg/types"
)

func TestNewHubRecorderDefaultsNilInnerToNoOp(t *testing.T) {
	r := newHubRecorder(NewHub(zap.NewNop()), "run-1", nil)
	if _, ok := r.inner.(telemetry.NoOp); !ok {
		t.Fatalf("nil inner recorder should default to telemetry.NoOp, got %T", r.inner)
	}
}

func TestHubRecorderForwardsToInnerAndPublishesSignal(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	c := newTestClient(hub)
	hub.register <- c
	time.Sleep(10 * time.Millisecond)

	inner := &countingRecorder{}
	r := newHubRecorder(hub, "run-42", inner)

	r.RecordSignal("vwap_magnet", types.DirectionLong)

	if inner.signals != 1 {
		t.Fatalf("inner recorder should have seen 1 signal, got %d", inner.signals)
	}

	select {
	case msg := <-c.send:
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type != EventSignal || env.RunID != "run-42" {
			t.Fatalf("envelope = %+v, want type=%s runID=run-42", env, EventSignal)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the signal event to reach the hub's client")
	}
}

func TestHubRecorderRecordEquityDoesNotPublish(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	c := newTestClient(hub)
	hub.register <- c
	time.Sleep(10 * time.Millisecond)

	inner := &countingRecorder{}
	r := newHubRecorder(hub, "run-1", inner)
	r.RecordEquity(1.5)

	if inner.equityCalls != 1 {
		t.Fatalf("inner recorder should have seen 1 equity update, got %d", inner.equityCalls)
	}
	select {
	case msg := <-c.send:
		t.Fatalf("RecordEquity should not publish a hub event, got %s", msg)
	case <-time.After(100 * time.Millisecond):
		// expected: no event published
	}
}

// countingRecorder is a minimal telemetry.Recorder stub for asserting
// hubRecorder's forwarding behavior without pulling in Prometheus.
type countingRecorder struct {
	signals     int
	equityCalls int
}

func (c *countingRecorder) RecordBar()                                                            {}
func (c *countingRecorder) RecordSignal(string, types.Direction)                                  { c.signals++ }
func (c *countingRecorder) RecordTradeClosed(types.ExitReason, types.Direction, float64)           {}
func (c *countingRecorder) RecordEquity(float64)                                                  { c.equityCalls++ }
func (c *countingRecorder) RecordGovernanceSuppression(string)                                    {}
func (c *countingRecorder) RecordPortfolioHeat(float64)                                            {}

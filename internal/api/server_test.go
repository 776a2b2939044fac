package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/barsrc"
	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/internal/engine"
)

func newTestServer() *Server {
	return NewServer(zap.NewNop())
}

func testConfigWithBadOpeningRange() *config.Root {
	cfg := config.Default()
	cfg.OpeningRange.BaseMinutes = 0
	return cfg
}

func newIdleEngine() *engine.Engine {
	return engine.New(zap.NewNop(), config.Default(), barsrc.NewSliceSource(nil), nil, nil)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v, want healthy", body["status"])
	}
}

func TestHandleStartRunRejectsMissingBarsPath(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(runRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a missing barsPath", rec.Code)
	}
}

func TestHandleStartRunRejectsMalformedJSON(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed JSON", rec.Code)
	}
}

func TestHandleStartRunRejectsInvalidConfig(t *testing.T) {
	s := newTestServer()
	cfg := testConfigWithBadOpeningRange()
	body, _ := json.Marshal(runRequest{BarsPath: "bars.csv", Config: cfg})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an invalid config", rec.Code)
	}
}

func TestHandleStartRunRejectsUnreadableBarsPath(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(runRequest{BarsPath: "/nonexistent/path/bars.csv"})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for an unreadable bars path", rec.Code)
	}
}

func TestHandleGetRunNotFound(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown run id", rec.Code)
	}
}

func TestHandleGetTradesNotFoundForUnknownRun(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing/trades", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleGetTradesConflictWhenRunNotComplete(t *testing.T) {
	s := newTestServer()
	state := &runState{ID: "run-1", Status: "running"}
	s.mu.Lock()
	s.runs["run-1"] = state
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-1/trades", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for a run still in progress", rec.Code)
	}
}

func TestHandleGetEquityConflictWhenRunNotComplete(t *testing.T) {
	s := newTestServer()
	state := &runState{ID: "run-2", Status: "running"}
	s.mu.Lock()
	s.runs["run-2"] = state
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-2/equity", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestHandleGetRunReportsRunningProgress(t *testing.T) {
	s := newTestServer()
	state := &runState{ID: "run-3", Status: "running", Engine: newIdleEngine()}
	s.mu.Lock()
	s.runs["run-3"] = state
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/run-3", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "running" {
		t.Fatalf("status field = %v, want running", body["status"])
	}
	if _, ok := body["progress"]; !ok {
		t.Fatal("a running run's response should include a progress field")
	}
}

func TestHandleCancelRunMarksStatusCancelled(t *testing.T) {
	s := newTestServer()
	state := &runState{ID: "run-4", Status: "running", Engine: newIdleEngine()}
	s.mu.Lock()
	s.runs["run-4"] = state
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodPost, "/api/runs/run-4/cancel", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runs["run-4"].Status != "cancelled" {
		t.Fatalf("run status = %s, want cancelled", s.runs["run-4"].Status)
	}
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("the /metrics endpoint should return a non-empty body")
	}
}

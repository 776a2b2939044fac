package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/orbconfluence/backtest-engine/internal/barsrc"
	"github.com/orbconfluence/backtest-engine/internal/config"
	"github.com/orbconfluence/backtest-engine/internal/engine"
	"github.com/orbconfluence/backtest-engine/internal/telemetry"
)

// runState tracks one in-flight or completed backtest launched through the
// API, grounded on the teacher's BacktestState.
type runState struct {
	ID      string
	Config  *config.Root
	Engine  *engine.Engine
	Status  string // "running", "completed", "failed", "cancelled"
	Started time.Time
	Error   string
	Result  *engine.Result
}

// runRequest is the JSON body POSTed to /api/runs. BarsPath names a
// CSV bar file on the server's filesystem (this engine has no embedded
// data store — see internal/barsrc) rather than a symbol/timeframe pair,
// since a backtest run here always replays one pre-materialized bar file.
type runRequest struct {
	BarsPath string       `json:"barsPath"`
	Config   *config.Root `json:"config"`
}

// Server exposes run management over REST and live run events over
// WebSocket, grounded on the teacher's internal/api.Server (NewServer,
// setupRoutes, Start/Stop), re-targeted from live order/position
// reporting onto backtest run lifecycle reporting.
type Server struct {
	mu     sync.RWMutex
	logger *zap.Logger
	router *mux.Router
	http   *http.Server
	hub    *Hub

	upgrader websocket.Upgrader
	runs     map[string]*runState

	metricsReg *prometheus.Registry
	metrics    *telemetry.Prom
}

// NewServer builds a Server with routes registered but not yet listening.
// Every run launched through it shares the same Prometheus collectors, so
// /metrics reflects cumulative activity across runs the way a long-lived
// reporting service would.
func NewServer(logger *zap.Logger) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		logger: logger,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		runs:   make(map[string]*runState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		metricsReg: reg,
		metrics:    telemetry.NewProm(reg),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}).ServeHTTP).Methods(http.MethodGet)

	s.router.HandleFunc("/api/runs", s.handleStartRun).Methods(http.MethodPost)
	s.router.HandleFunc("/api/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	s.router.HandleFunc("/api/runs/{id}/trades", s.handleGetTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/api/runs/{id}/equity", s.handleGetEquity).Methods(http.MethodGet)
	s.router.HandleFunc("/api/runs/{id}/cancel", s.handleCancelRun).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start binds addr behind CORS and begins serving, grounded on the
// teacher's Server.Start.
func (s *Server) Start(addr string) error {
	stop := make(chan struct{})
	go s.hub.Run(stop)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("api server listening", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BarsPath == "" {
		http.Error(w, "barsPath is required", http.StatusBadRequest)
		return
	}

	cfg := req.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config: %s", err), http.StatusBadRequest)
		return
	}

	source, err := barsrc.NewCSVSource(req.BarsPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("opening bars: %s", err), http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	recorder := newHubRecorder(s.hub, runID, s.metrics)
	eng := engine.New(s.logger, cfg, source, recorder, nil)

	state := &runState{ID: runID, Config: cfg, Engine: eng, Status: "running", Started: time.Now()}
	s.mu.Lock()
	s.runs[runID] = state
	s.mu.Unlock()

	go s.runInBackground(state, source)
	go s.streamProgress(state)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      runID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

func (s *Server) runInBackground(state *runState, source *barsrc.CSVSource) {
	defer source.Close()

	result, err := state.Engine.Run(context.Background())

	s.mu.Lock()
	if err != nil {
		state.Status = "failed"
		state.Error = err.Error()
		s.logger.Error("run failed", zap.String("id", state.ID), zap.Error(err))
	} else {
		state.Status = "completed"
		state.Result = result
	}
	s.mu.Unlock()

	s.hub.Publish(state.ID, EventComplete, map[string]interface{}{"status": state.Status})
}

func (s *Server) streamProgress(state *runState) {
	for p := range state.Engine.ProgressChan() {
		s.hub.Publish(state.ID, EventProgress, p)
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookupRun(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	s.mu.RLock()
	resp := map[string]interface{}{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Error != "" {
		resp["error"] = state.Error
	}
	if state.Result != nil {
		resp["barsProcessed"] = state.Result.BarsProcessed
		resp["tradesClosed"] = len(state.Result.ClosedTrades)
		resp["durationMs"] = state.Result.Duration.Milliseconds()
	}
	if state.Status == "running" {
		resp["progress"] = state.Engine.GetProgress()
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookupRun(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state.Result == nil {
		http.Error(w, "run not complete", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     state.ID,
		"trades": state.Result.ClosedTrades,
		"count":  len(state.Result.ClosedTrades),
	})
}

func (s *Server) handleGetEquity(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookupRun(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state.Result == nil {
		http.Error(w, "run not complete", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     state.ID,
		"equity": state.Result.EquityCurve,
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookupRun(r)
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	state.Engine.Cancel()

	s.mu.Lock()
	if state.Status == "running" {
		state.Status = "cancelled"
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": state.ID, "status": "cancelled"})
}

func (s *Server) lookupRun(r *http.Request) (*runState, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.runs[id]
	return state, ok
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

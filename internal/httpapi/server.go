package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callisto/internal/backtest"
	"callisto/internal/domain"
	"callisto/internal/engine"
	"callisto/internal/license"
	"callisto/internal/metrics"
	"callisto/internal/pairparams"
	"callisto/internal/store"
	"callisto/internal/strategy"
)

// Options wires a Server's collaborators. Runs, Bars and Registry are
// required; Engine and Licenses may be nil, in which case the corresponding
// endpoints report unavailable.
type Options struct {
	Runs     store.RunStore
	Bars     store.BarStore
	Registry *strategy.Registry
	Defaults backtest.Config
	Engine   *engine.Engine
	Licenses *license.Manager
	Tiers    map[license.Tier]license.Features
	Params   *pairparams.Store
	Hub      *Hub
	Metrics  *metrics.Recorder
	Log      *slog.Logger
}

// Server serves the dashboard HTTP API.
type Server struct {
	runs     store.RunStore
	bars     store.BarStore
	registry *strategy.Registry
	defaults backtest.Config
	engine   *engine.Engine
	licenses *license.Manager
	tiers    map[license.Tier]license.Features
	params   *pairparams.Store
	hub      *Hub
	rec      *metrics.Recorder
	log      *slog.Logger

	// Cache for full run results. Results are immutable once stored, so
	// entries live until the run is deleted. Key: run id.
	resultCache sync.Map
}

// NewServer creates a dashboard API server from Options.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		runs:     opts.Runs,
		bars:     opts.Bars,
		registry: opts.Registry,
		defaults: opts.Defaults,
		engine:   opts.Engine,
		licenses: opts.Licenses,
		tiers:    opts.Tiers,
		params:   opts.Params,
		hub:      opts.Hub,
		rec:      opts.Metrics,
		log:      log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/trades", s.handleRunTrades)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("POST /api/v1/backtests", s.handleBacktest)
	mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/v1/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/v1/bars", s.handleBars)
	mux.HandleFunc("GET /api/v1/engine/status", s.handleEngineStatus)
	mux.HandleFunc("GET /api/v1/engine/positions", s.handleEnginePositions)
	mux.HandleFunc("GET /api/v1/pairs/{pair}/params", s.handleGetPairParams)
	mux.HandleFunc("PUT /api/v1/pairs/{pair}/params", s.handleSetPairParam)
	mux.HandleFunc("DELETE /api/v1/pairs/{pair}/params/{key}", s.handleDeletePairParam)
	mux.HandleFunc("POST /api/v1/license/activate", s.handleLicenseActivate)
	mux.HandleFunc("POST /api/v1/license/validate", s.handleLicenseValidate)
	mux.HandleFunc("GET /api/v1/license/{key}", s.handleLicenseInfo)
	mux.HandleFunc("GET /api/v1/tiers", s.handleTiers)
	if s.hub != nil {
		mux.Handle("GET /api/v1/stream", s.hub)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the complete http.Handler: routes wrapped in CORS,
// request logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(s.instrument(mux))
}

// instrument records request counts and latency and logs each request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		// The route pattern keeps the metric cardinality bounded.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.rec.RecordHTTPRequest(r.Method, path, sw.status, elapsed.Seconds())
		s.log.Debug("request",
			"method", r.Method, "path", r.URL.Path, "status", sw.status, "elapsed", elapsed)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Runs and backtests
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeJSON(w, RunsResponse{Runs: runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if v, ok := s.resultCache.Load(id); ok {
		writeJSON(w, v)
		return
	}
	res, err := s.runs.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading run failed")
		return
	}
	s.resultCache.Store(id, res)
	writeJSON(w, res)
}

func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := s.runs.ListTrades(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing trades failed")
		return
	}
	writeJSON(w, PositionsResponse{Positions: trades})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.runs.DeleteRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deleting run failed")
		return
	}
	s.resultCache.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" || req.Strategy == "" || req.Timeframe == "" {
		writeError(w, http.StatusBadRequest, "symbol, strategy and timeframe are required")
		return
	}
	eval, ok := s.registry.Get(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", req.Strategy))
		return
	}

	start := req.Start
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	end := req.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	bars, err := s.bars.ReadBars(r.Context(), req.Symbol, req.Timeframe, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading bars failed")
		return
	}

	cfg := s.defaults
	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
	}
	if req.RiskPerTrade > 0 {
		cfg.RiskPerTrade = req.RiskPerTrade
	}
	if req.FeeRate > 0 {
		cfg.FeeRate = req.FeeRate
	}
	if req.SlippageRate > 0 {
		cfg.SlippageRate = req.SlippageRate
	}

	runStart := time.Now()
	res := backtest.New(cfg).Run(req.Symbol, req.Timeframe, bars, eval)
	s.rec.RecordBacktest(time.Since(runStart).Seconds())
	s.rec.RecordBarsProcessed(len(bars))

	id, err := s.runs.SaveResult(r.Context(), res)
	if err != nil {
		s.log.Error("saving run failed", "symbol", req.Symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "saving run failed")
		return
	}

	summary := store.RunSummary{
		ID:                 id,
		CreatedAt:          time.Now().UTC(),
		Symbol:             res.Symbol,
		Strategy:           res.Strategy,
		Timeframe:          res.Timeframe,
		TotalReturnPercent: res.TotalReturnPercent,
		TotalTrades:        res.TotalTrades,
		WinRate:            res.WinRate,
		ProfitFactor:       res.ProfitFactor,
		MaxDrawdownPercent: res.MaxDrawdownPercent,
		SharpeRatio:        res.SharpeRatio,
	}
	if s.hub != nil {
		s.hub.Publish("backtest_completed", summary)
	}
	writeJSON(w, BacktestResponse{RunID: id, Summary: summary})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StrategiesResponse{Strategies: s.registry.List()})
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	tf := r.URL.Query().Get("timeframe")
	if tf == "" {
		tf = "1h"
	}
	symbols, err := s.bars.ListSymbols(r.Context(), tf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing symbols failed")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, SymbolsResponse{Timeframe: tf, Symbols: symbols})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	tf := q.Get("timeframe")
	if symbol == "" || tf == "" {
		writeError(w, http.StatusBadRequest, "symbol and timeframe are required")
		return
	}
	limit := 200
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	start := time.Unix(0, 0).UTC()
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC 3339")
			return
		}
		start = t
	}
	end := time.Now().UTC()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC 3339")
			return
		}
		end = t
	}

	bars, err := s.bars.ReadBars(r.Context(), symbol, tf, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading bars failed")
		return
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	writeJSON(w, BarsResponse{Symbol: symbol, Timeframe: tf, Count: len(bars), Bars: bars})
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, EngineStatusResponse{Running: false})
		return
	}
	st := s.engine.Status()
	writeJSON(w, EngineStatusResponse{Running: true, Status: &st})
}

func (s *Server) handleEnginePositions(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, PositionsResponse{Positions: []domain.SimulatedTrade{}})
		return
	}
	writeJSON(w, PositionsResponse{Positions: s.engine.Positions()})
}

// ---------------------------------------------------------------------------
// Pair parameters
// ---------------------------------------------------------------------------

func (s *Server) handleGetPairParams(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusServiceUnavailable, "pair parameters not configured")
		return
	}
	pair := r.PathValue("pair")
	writeJSON(w, PairParamsResponse{Pair: pair, Params: s.params.Get(pair)})
}

func (s *Server) handleSetPairParam(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusServiceUnavailable, "pair parameters not configured")
		return
	}
	pair := r.PathValue("pair")
	var req SetParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	s.params.Set(pair, req.Key, req.Value)
	if s.hub != nil {
		s.hub.Publish("pair_params_changed", PairParamsResponse{Pair: pair, Params: s.params.Get(pair)})
	}
	writeJSON(w, PairParamsResponse{Pair: pair, Params: s.params.Get(pair)})
}

func (s *Server) handleDeletePairParam(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusServiceUnavailable, "pair parameters not configured")
		return
	}
	pair, key := r.PathValue("pair"), r.PathValue("key")
	s.params.Delete(pair, key)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// License
// ---------------------------------------------------------------------------

func (s *Server) handleLicenseActivate(w http.ResponseWriter, r *http.Request) {
	if s.licenses == nil {
		writeError(w, http.StatusServiceUnavailable, "licensing not configured")
		return
	}
	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	lic, err := s.licenses.Activate(r.Context(), req.Key, req.HardwareID, r.RemoteAddr)
	if err != nil {
		writeError(w, licenseStatus(err), err.Error())
		return
	}
	info, err := s.licenses.GetInfo(r.Context(), lic.Key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading license failed")
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleLicenseValidate(w http.ResponseWriter, r *http.Request) {
	if s.licenses == nil {
		writeError(w, http.StatusServiceUnavailable, "licensing not configured")
		return
	}
	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	tier, err := s.licenses.Validate(r.Context(), req.Key, req.HardwareID)
	if err != nil {
		writeJSON(w, LicenseValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, LicenseValidateResponse{Valid: true, Tier: tier})
}

func (s *Server) handleLicenseInfo(w http.ResponseWriter, r *http.Request) {
	if s.licenses == nil {
		writeError(w, http.StatusServiceUnavailable, "licensing not configured")
		return
	}
	info, err := s.licenses.GetInfo(r.Context(), r.PathValue("key"))
	if errors.Is(err, license.ErrNotFound) {
		writeError(w, http.StatusNotFound, "license not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading license failed")
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers := s.tiers
	if tiers == nil {
		tiers = license.DefaultTiers()
	}
	writeJSON(w, TiersResponse{Tiers: tiers})
}

// licenseStatus maps license lifecycle errors to HTTP status codes.
func licenseStatus(err error) int {
	switch {
	case errors.Is(err, license.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, license.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, license.ErrExpired),
		errors.Is(err, license.ErrDeactivated),
		errors.Is(err, license.ErrActivationLimit),
		errors.Is(err, license.ErrHardwareMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Package api provides the HTTP REST API surface described in SPEC_FULL.md
// §6: request validation and job setup live here, while the actual
// simulation work is delegated to internal/orchestrator, internal/market,
// internal/universe, and internal/sandbox.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/backtestcore/internal/config"
	"github.com/seenimoa/backtestcore/internal/coreerr"
	"github.com/seenimoa/backtestcore/internal/market"
	"github.com/seenimoa/backtestcore/internal/orchestrator"
	"github.com/seenimoa/backtestcore/internal/sandbox"
	"github.com/seenimoa/backtestcore/internal/universe"
	"github.com/seenimoa/backtestcore/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	market   *market.Provider
	universe *universe.Resolver
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config) (*Server, error) {
	mkt := market.NewProvider(market.Config{
		CacheTTL:      time.Duration(cfg.Market.CacheTTL) * time.Second,
		RateLimitPerS: cfg.Market.RateLimitPerS,
	})
	uni := universe.NewResolver(time.Duration(cfg.Universe.CacheTTL) * time.Second)

	srv := &Server{
		cfg:      cfg,
		market:   mkt,
		universe: uni,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open; no fixed write deadline
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/backtest", s.handleBacktest)
		r.Post("/backtest/stream", s.handleBacktestStream)
		r.Post("/strategy/validate", s.handleValidateStrategy)

		r.Get("/config", s.handleGetConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BacktestRequest is the body for POST /api/v1/backtest and its /stream
// counterpart, matching the enumerated §6 request fields.
type BacktestRequest struct {
	Strategy       string  `json:"strategy"`
	UniverseID     string  `json:"universe_id,omitempty"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date,omitempty"`
	InitialCapital float64 `json:"initial_capital,omitempty"`
	PositionSize   float64 `json:"position_size,omitempty"`
	MaxPositions   int     `json:"max_positions,omitempty"`
	Commission     float64 `json:"commission,omitempty"`
	Slippage       float64 `json:"slippage,omitempty"`
	Interval       string  `json:"interval,omitempty"`
	UniverseLimit  int     `json:"universe_limit,omitempty"`
	Workers        int     `json:"workers,omitempty"`
}

// StrategyValidateRequest is the body for POST /api/v1/strategy/validate.
type StrategyValidateRequest struct {
	Strategy string `json:"strategy"`
}

// StrategyValidateResponse reports whether a strategy source compiles.
type StrategyValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// toBacktestConfig converts a request body to a models.BacktestConfig,
// returning a *coreerr.ConfigError for any malformed field — the
// request-shape validation named in §7, caught before any worker starts.
func (req BacktestRequest) toBacktestConfig() (models.BacktestConfig, error) {
	if req.Strategy == "" {
		return models.BacktestConfig{}, &coreerr.ConfigError{Field: "strategy", Message: "strategy source is required"}
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return models.BacktestConfig{}, &coreerr.ConfigError{Field: "start_date", Message: "must be YYYY-MM-DD"}
	}

	end := time.Now()
	if req.EndDate != "" {
		end, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return models.BacktestConfig{}, &coreerr.ConfigError{Field: "end_date", Message: "must be YYYY-MM-DD"}
		}
	}
	if !end.After(start) {
		return models.BacktestConfig{}, &coreerr.ConfigError{Field: "end_date", Message: "must be after start_date"}
	}

	cfg := models.BacktestConfig{
		StrategySource: req.Strategy,
		UniverseID:     req.UniverseID,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: req.InitialCapital,
		PositionSize:   req.PositionSize,
		MaxPositions:   req.MaxPositions,
		Commission:     req.Commission,
		Slippage:       req.Slippage,
		Interval:       req.Interval,
		UniverseLimit:  req.UniverseLimit,
		Workers:        req.Workers,
	}.WithDefaults()

	return cfg, nil
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":  "ok",
			"version": "dev",
			"time":    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// loadUniverseBars resolves cfg's universe to a symbol list (capped by
// UniverseLimit) and fetches their bars, applying the configured default
// initial capital when the request didn't set one.
func (s *Server) loadUniverseBars(ctx context.Context, cfg models.BacktestConfig) (models.BacktestConfig, map[string][]models.Bar, error) {
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = s.cfg.Backtest.InitialCapital
	}

	symbols, err := s.universe.Load(ctx, cfg.UniverseID)
	if err != nil {
		return cfg, nil, &coreerr.ConfigError{Field: "universe_id", Message: err.Error()}
	}
	sort.Strings(symbols)
	if cfg.UniverseLimit > 0 && cfg.UniverseLimit < len(symbols) {
		symbols = symbols[:cfg.UniverseLimit]
	}

	bars, err := s.market.LoadBars(ctx, symbols, cfg.StartDate, cfg.EndDate, cfg.Interval)
	if err != nil && len(bars) == 0 {
		return cfg, nil, fmt.Errorf("loading bars for universe %q: %w", cfg.UniverseID, err)
	}
	return cfg, bars, nil
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := req.toBacktestConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	cfg, bars, err := s.loadUniverseBars(ctx, cfg)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	jobID := fmt.Sprintf("job-%d", time.Now().UnixNano())
	result, err := orchestrator.Run(ctx, jobID, cfg, bars)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

func (s *Server) handleBacktestStream(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := req.toBacktestConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	cfg, bars, err := s.loadUniverseBars(ctx, cfg)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	jobID := fmt.Sprintf("job-%d", time.Now().UnixNano())
	for ev := range orchestrator.RunStreaming(ctx, jobID, cfg, bars) {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("api: failed to marshal event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			log.Printf("api: stream write failed, client likely disconnected: %v", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleValidateStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := sandbox.Compile(req.Strategy); err != nil {
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Data:    StrategyValidateResponse{Valid: false, Error: err.Error()},
		})
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    StrategyValidateResponse{Valid: true},
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.cfg})
}

func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: config.CheckAPIKeys(s.cfg)})
}

// ============================================================
// Helpers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}

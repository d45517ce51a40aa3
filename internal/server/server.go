package server

// Package server is the HTTP surface of the agent: thin call-throughs to the
// stores, predictors, explainer, executor and orchestrator. No decision
// logic lives in handlers.

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cementai/optimizer-agent/internal/config"
	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/models"
	"github.com/cementai/optimizer-agent/internal/orchestrator"
	"github.com/cementai/optimizer-agent/internal/predict"
)

// CycleRunner runs one orchestration cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, plantID, lineID string, limit int) (*orchestrator.CycleResult, error)
}

// Explainer is the explanation and chat surface.
type Explainer interface {
	Explain(ctx context.Context, rec *models.Recommendation, state *models.ProcessState) (string, error)
	Answer(ctx context.Context, question string, state *models.ProcessState) (string, error)
}

// ActionExecutor carries out or defers one recommendation.
type ActionExecutor interface {
	Execute(ctx context.Context, rec *models.Recommendation, approved bool, approver string) (*models.ActionRecord, error)
}

// Deps are the injected components the server exposes.
type Deps struct {
	Store     db.Store
	Runner    CycleRunner
	Explainer Explainer
	Executor  ActionExecutor
	Energy    predict.EnergyPredictor
	PMRisk    predict.PMRiskPredictor
	Logger    *zap.Logger
}

// Server is the agent's HTTP server.
type Server struct {
	cfg  *config.Config
	deps Deps
	hub  *Hub

	httpServer *http.Server
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// New creates a Server. All dependencies are injected; the server owns only
// the HTTP lifecycle and the WebSocket hub.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		deps:   deps,
		hub:    NewHub(cfg.Server.AllowedOrigins, deps.Logger),
		logger: deps.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the HTTP server and the WebSocket hub.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	go s.hub.Run(s.ctx)

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.Int("port", s.cfg.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()
	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/v1/predict/energy", s.handlePredictEnergy)
	mux.HandleFunc("/api/v1/predict/pm_risk", s.handlePredictPMRisk)
	mux.HandleFunc("/api/v1/recommendations", s.handleRecommendations)
	mux.HandleFunc("/api/v1/metrics/realtime", s.handleRealtimeMetrics)
	mux.HandleFunc("/api/v1/explain", s.handleExplain)
	mux.HandleFunc("/api/v1/chat", s.handleChat)
	mux.HandleFunc("/api/v1/action/execute", s.handleExecuteAction)
	mux.HandleFunc("/api/v1/cycle/run", s.handleRunCycle)
	mux.HandleFunc("/api/v1/audit", s.handleAuditLog)

	mux.HandleFunc("/ws/cycles", s.hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
}

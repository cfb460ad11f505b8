// Package server exposes the detection pipeline over HTTP: the /api/v1
// surface, prometheus exposition, health probes and the websocket feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/logsentry/logsentry/internal/detect"
	"github.com/logsentry/logsentry/internal/feedback"
	"github.com/logsentry/logsentry/internal/history"
	"github.com/logsentry/logsentry/internal/middleware"
	"github.com/logsentry/logsentry/internal/model"
)

// Config holds the HTTP server settings.
type Config struct {
	Host string
	Port int

	// IngestRateLimit caps per-client requests per minute on the ingest
	// endpoints. Zero disables limiting.
	IngestRateLimit int
}

// Server is the logsentry HTTP server.
type Server struct {
	config Config
	log    *zap.Logger

	pipeline *detect.Pipeline
	model    *model.Service
	history  *history.Ring[detect.AnomalyRecord]
	feedback *feedback.Store
	hub      *Hub
	limiter  *middleware.Limiter

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// Deps bundles the components the server fronts. Pipeline may be wired
// after construction via SetPipeline, since it usually broadcasts into
// the server's own websocket hub.
type Deps struct {
	Pipeline *detect.Pipeline
	Model    *model.Service
	History  *history.Ring[detect.AnomalyRecord]
	Feedback *feedback.Store
}

// New creates the server. Call Start to begin serving.
func New(cfg Config, deps Deps, log *zap.Logger) (*Server, error) {
	if deps.Model == nil || deps.History == nil {
		return nil, fmt.Errorf("server: model and history are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   cfg,
		log:      log,
		pipeline: deps.Pipeline,
		model:    deps.Model,
		history:  deps.History,
		feedback: deps.Feedback,
		hub:      NewHub(log),
		limiter:  middleware.NewLimiter(cfg.IngestRateLimit),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Hub returns the websocket hub so the pipeline can broadcast into it.
func (s *Server) Hub() *Hub { return s.hub }

// SetPipeline binds the detection pipeline. Must be called before Start.
func (s *Server) SetPipeline(p *detect.Pipeline) { s.pipeline = p }

// Start binds the listener and begins serving.
func (s *Server) Start() error {
	if s.pipeline == nil {
		return fmt.Errorf("server: pipeline not set")
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.hub.Start()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
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
			s.log.Warn("http shutdown error", zap.Error(err))
		}
	}

	s.hub.Stop()
	s.limiter.Stop()
	s.cancel()
	s.wg.Wait()
	s.log.Info("http server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/anomalies", s.handleWebSocket)

	mux.HandleFunc("/api/v1/", s.handleRoot)
	mux.HandleFunc("/api/v1/metrics", s.handleServiceMetrics)
	mux.HandleFunc("/api/v1/stream/multi-source", s.limiter.Wrap(s.handleStream))
	mux.HandleFunc("/api/v1/anomalies", s.handleAnomalies)
	mux.HandleFunc("/api/v1/train", s.limiter.Wrap(s.handleTrain))
	mux.HandleFunc("/api/v1/feedback", s.handleFeedback)
}

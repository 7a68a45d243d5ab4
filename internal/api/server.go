// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/atlas-desktop/portfolio-lab/internal/charts"
	"github.com/atlas-desktop/portfolio-lab/internal/metrics"
	"github.com/atlas-desktop/portfolio-lab/internal/montecarlo"
	"github.com/atlas-desktop/portfolio-lab/internal/optimization"
	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	hubCancel  context.CancelFunc

	registry  *prometheus.Registry
	recorder  *metrics.Recorder
	simulator *montecarlo.Simulator
	optimizer *optimization.Optimizer
	renderer  *charts.Renderer
	runs      *RunStore
	optimize  singleflight.Group
}

// NewServer creates a new API server. registry may be nil, in which case
// metrics are neither recorded nor exposed.
func NewServer(logger *zap.Logger, config *types.Config, registry *prometheus.Registry) *Server {
	var recorder *metrics.Recorder
	if registry != nil {
		recorder = metrics.NewRecorder(registry)
	}

	simConfig := config.Simulator
	chartConfig := config.Charts

	server := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		registry:  registry,
		recorder:  recorder,
		simulator: montecarlo.NewSimulator(logger, &simConfig, recorder),
		optimizer: optimization.NewOptimizer(logger, &config.Optimizer, recorder),
		renderer:  charts.NewRenderer(logger, &chartConfig),
		runs:      NewRunStore(config.Server.MaxRuns),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/simulate", s.handleSimulate).Methods("POST")
	s.router.HandleFunc("/api/v1/optimize", s.handleOptimize).Methods("POST")
	s.router.HandleFunc("/api/v1/compare", s.handleCompare).Methods("POST")
	s.router.HandleFunc("/api/v1/sweep", s.handleSweep).Methods("POST")

	s.router.HandleFunc("/api/v1/runs", s.handleListRuns).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/chart/{kind}", s.handleRunChart).Methods("GET")

	if s.registry != nil && s.config.Server.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc(s.config.Server.WebSocketPath, s.handleWebSocket)
}

// Router exposes the route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler wraps the router with CORS.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start starts the hub and the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	s.mu.Lock()
	s.hubCancel = cancel
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.httpServer, s.hubCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.hub.CloseAll()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"runs":    s.runs.Len(),
		"clients": s.hub.ClientCount(),
	})
}

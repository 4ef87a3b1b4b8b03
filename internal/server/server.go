package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/calign/retime/internal/config"
	"github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/health"
	"github.com/calign/retime/internal/logger"
	"github.com/calign/retime/internal/resample"
	"github.com/calign/retime/internal/video"
)

const (
	healthCheckInterval = 15 * time.Second

	// API polling limits. retime-top polls at sub-second intervals; the
	// limiter only has to stop runaway clients from starving the
	// conversion loop.
	apiRateLimit = rate.Limit(50)
	apiRateBurst = 100
)

// StatsSource exposes the live conversion session to the status API and
// health checks. *resample.Pipeline satisfies it.
type StatsSource interface {
	SessionID() string
	GetStats() resample.PipelineStats
}

// Server is the HTTP status and debug server. It is optional: one-shot
// CLI runs work without it, long encodes enable it for health checks,
// live counters and the retime-top dashboard.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	budget       *video.Budget
	source       StatsSource
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	apiLimiter   *rate.Limiter
	startTime    time.Time

	// Additional handlers can be registered before the route table builds
	routesMu         sync.Mutex
	additionalRoutes []func(*mux.Router)
	setupOnce        sync.Once
}

// New creates a new server instance. budget and source may be nil when
// there is nothing to report on yet; the corresponding endpoints and
// health checkers degrade gracefully.
func New(cfg *config.ServerConfig, log *logrus.Logger, budget *video.Budget, source StatsSource) *Server {
	s := &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		budget:           budget,
		source:           source,
		healthMgr:        health.NewManager(log),
		errorHandler:     errors.NewErrorHandler(log),
		apiLimiter:       rate.NewLimiter(apiRateLimit, apiRateBurst),
		startTime:        time.Now(),
		additionalRoutes: make([]func(*mux.Router), 0),
	}

	s.registerHealthCheckers()

	return s
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	// WriteTimeout is enforced per-route by timeoutMiddleware so that
	// pprof profile captures, which stream for their whole duration,
	// are not cut off mid-response.
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}

	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting status server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests up to the configured shutdown timeout.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Shutting down status server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}

	s.logger.Info("Status server shutdown complete")
	return nil
}

// setupRoutes builds the route table exactly once, whether Start or
// GetRouter gets there first.
func (s *Server) setupRoutes() {
	s.setupOnce.Do(s.buildRoutes)
}

func (s *Server) buildRoutes() {
	// Apply global middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.config.WriteTimeout > 0 {
		s.router.Use(s.timeoutMiddleware(s.config.WriteTimeout))
	}

	// Health endpoints
	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	// Version endpoint
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	// Service index
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")

	// Prometheus scrape endpoint
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/session", s.handleSession).Methods("GET")

	// Debug endpoints (only if enabled)
	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	// Register any additional routes
	s.routesMu.Lock()
	extra := s.additionalRoutes
	s.routesMu.Unlock()
	for _, registerFunc := range extra {
		registerFunc(s.router)
	}

	// 404 handler
	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// registerHealthCheckers registers all health checkers
func (s *Server) registerHealthCheckers() {
	var heapLimit int64
	if s.budget != nil {
		s.healthMgr.Register(health.NewBudgetChecker(s.budget, 0, 0))
		// Frame planes dominate the heap; allow twice the frame budget
		// for everything else before the memory checker complains.
		heapLimit = 2 * s.budget.Stats().Limit
	}
	s.healthMgr.Register(health.NewMemoryChecker(heapLimit))

	if s.source != nil {
		src := s.source
		s.healthMgr.Register(health.NewProgressChecker(func() (uint64, uint64) {
			st := src.GetStats()
			return st.FramesIn, st.FramesOut
		}))
	}
}

// setupDebugEndpoints registers pprof and a debug info endpoint
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	registerPprof(s.router)

	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"addr":           fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
			"session_active": s.source != nil,
			"budget_tracked": s.budget != nil,
			"debug_enabled":  true,
		}
		_ = s.writeJSON(w, http.StatusOK, info)
	}).Methods("GET")
}

// RegisterRoutes adds additional route handlers to the server. Must be
// called before Start or GetRouter.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// GetRouter returns the routed handler without binding a listener. Tests
// and embedders drive it directly.
func (s *Server) GetRouter() *mux.Router {
	s.setupRoutes()
	return s.router
}

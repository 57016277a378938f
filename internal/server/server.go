// Package server wires the HTTP API: case intake, lookup, cancellation,
// audit queries, and WebSocket streaming of case events.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/audit"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/cases"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/circuitbreaker"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/config"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/health"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/intent"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/logging"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/metrics"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/notify"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/orchestrator"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/ratelimit"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/risk"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/security"
	sig "github.com/sushanthmavenir/intent-orchestrator-platform/internal/signal"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/validation"
)

// Server is the HTTP API server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	store     cases.Store
	auditLog  audit.Log
	providers []sig.Provider
	gateway   *sig.Gateway
	engine    *orchestrator.Engine
	hub       *notify.Hub
	checks    *health.Registry

	rateLimiter *ratelimit.Limiter

	router  *gin.Engine
	httpSrv *http.Server

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithStore overrides the case store (used in tests).
func WithStore(store cases.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithAuditLog overrides the audit log (used in tests).
func WithAuditLog(log audit.Log) Option {
	return func(s *Server) { s.auditLog = log }
}

// WithProviders overrides the risk-signal providers (used in tests).
func WithProviders(providers []sig.Provider) Option {
	return func(s *Server) { s.providers = providers }
}

// New creates a fully wired server from configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	// Storage: PostgreSQL when configured, in-memory otherwise.
	if s.store == nil || s.auditLog == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = db.PingContext(pingCtx)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("failed to ping database: %w", err)
			}
			s.db = db
			s.logger.Info("connected to database", "dsn", maskDSN(cfg.DatabaseURL))

			caseStore := cases.NewPostgresStore(db)
			if err := caseStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate case store", "error", err)
			}
			auditLog := audit.NewPostgresLog(db)
			if err := auditLog.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate audit log", "error", err)
			}
			s.store = caseStore
			s.auditLog = auditLog
			s.checks.Register("database", health.DatabaseChecker("database", db))
		} else {
			s.store = cases.NewMemoryStore()
			s.auditLog = audit.NewMemoryLog()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	if s.providers == nil {
		s.providers = sig.NewSimulatedProviders()
	}

	breaker := circuitbreaker.New(cfg.BreakerThreshold,
		time.Duration(cfg.BreakerOpenSeconds)*time.Second)
	breaker.OnTransition(func(provider string, from, to circuitbreaker.State) {
		s.logger.Warn("provider circuit transition",
			"provider", provider, "from", from.String(), "to", to.String())
	})

	// The gateway needs the engine's late-result hook and the engine
	// needs the gateway; the closure breaks the cycle.
	s.gateway = sig.NewGateway(s.providers,
		sig.WithTimeout(cfg.ProviderTimeout),
		sig.WithRetryBackoff(cfg.RetryBackoff),
		sig.WithBreaker(breaker),
		sig.WithLogger(s.logger),
		sig.WithLateResultHook(func(req sig.Request, res sig.Result) {
			if s.engine != nil {
				s.engine.LateResultHook()(req, res)
			}
		}),
	)

	adapter := intent.NewAdapter(intent.NewPatternClassifier(), cfg.IntentThreshold, s.logger)
	s.hub = notify.NewHub(s.auditLog, s.logger)

	s.engine = orchestrator.NewEngine(s.store, s.auditLog, s.gateway, adapter,
		orchestrator.WithRiskConfig(riskConfig(cfg)),
		orchestrator.WithDispatchDeadline(cfg.DispatchDeadline),
		orchestrator.WithMaxInFlight(cfg.MaxInFlightCalls),
		orchestrator.WithNotifier(s.hub),
		orchestrator.WithLogger(s.logger),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())

	s.router.Use(s.requestIDMiddleware())

	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/livez", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	{
		v1.POST("/cases", s.createCaseHandler)
		v1.GET("/cases", s.listCasesHandler)
		v1.GET("/cases/:id", s.getCaseHandler)
		v1.POST("/cases/:id/cancel", s.cancelCaseHandler)
		v1.GET("/cases/:id/events", s.listEventsHandler)
		v1.GET("/cases/:id/stream", s.streamCaseHandler)
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"providers", s.gateway.Providers(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sg := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sg.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// riskConfig builds the aggregation tuning from app configuration,
// keeping defaults for anything not overridden.
func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	rc.PenaltyFactor = cfg.PenaltyFactor
	rc.MediumThreshold = cfg.MediumThreshold
	rc.HighThreshold = cfg.HighThreshold
	rc.CriticalThreshold = cfg.CriticalThreshold
	for name, w := range cfg.ProviderWeights {
		rc.Weights[name] = w
	}
	return rc
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

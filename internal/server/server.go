// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/secureflow/secureflow/internal/audit"
	"github.com/secureflow/secureflow/internal/circuitbreaker"
	"github.com/secureflow/secureflow/internal/config"
	"github.com/secureflow/secureflow/internal/health"
	"github.com/secureflow/secureflow/internal/idgen"
	"github.com/secureflow/secureflow/internal/logging"
	"github.com/secureflow/secureflow/internal/metrics"
	"github.com/secureflow/secureflow/internal/ratelimit"
	"github.com/secureflow/secureflow/internal/realtime"
	"github.com/secureflow/secureflow/internal/reconciliation"
	"github.com/secureflow/secureflow/internal/retry"
	"github.com/secureflow/secureflow/internal/scoring"
	"github.com/secureflow/secureflow/internal/security"
	"github.com/secureflow/secureflow/internal/traces"
	"github.com/secureflow/secureflow/internal/transaction"
	"github.com/secureflow/secureflow/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       transaction.Store
	scorer      scoring.Scorer
	auditor     audit.Recorder
	pipeline    *transaction.Pipeline
	reconciler  *reconciliation.Service
	realtimeHub *realtime.Hub
	healthReg   *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	auditorClose   func() error
	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithScorer sets a custom risk scorer (for testing)
func WithScorer(sc scoring.Scorer) Option {
	return func(s *Server) {
		s.scorer = sc
	}
}

// WithAuditor sets a custom ledger auditor (for testing)
func WithAuditor(a audit.Recorder) Option {
	return func(s *Server) {
		s.auditor = a
	}
}

// WithStore sets a custom transaction store (for testing)
func WithStore(store transaction.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set scorer/auditor/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			// Configure connection pool
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			// Databases behind orchestrators come up slower than we do
			if err := retry.Do(ctx, 5, time.Second, db.Ping); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.store = transaction.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = transaction.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Risk scoring client, wrapped in a circuit breaker so a dead scoring
	// service degrades to flagged decisions instead of hammering it
	if s.scorer == nil {
		if cfg.IsProduction() {
			if err := security.ValidateEndpointURL(cfg.ScoringURL); err != nil {
				s.logger.Warn("scoring endpoint failed validation", "url", cfg.ScoringURL, "error", err)
			}
		}
		client := scoring.NewClient(cfg.ScoringURL, scoring.WithTimeout(cfg.ScoringTimeout))
		s.scorer = scoring.NewBreakerScorer(client, circuitbreaker.New(5, 30*time.Second))
		s.healthReg.Register("scoring", func(ctx context.Context) health.Status {
			st := health.Status{Name: "scoring", Healthy: true}
			if err := client.Healthy(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
		s.logger.Info("risk scoring enabled", "url", cfg.ScoringURL)
	}

	// Ledger auditor (optional: empty AUDIT_PRIVATE_KEY disables auditing)
	if s.auditor == nil && cfg.AuditEnabled() {
		auditor, err := audit.New(audit.Config{
			RPCURL:          cfg.RPCURL,
			PrivateKey:      cfg.PrivateKey,
			ChainID:         cfg.ChainID,
			ContractAddress: cfg.AuditContract,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create auditor: %w", err)
		}
		s.auditor = auditor
		s.auditorClose = auditor.Close
		s.healthReg.Register("ledger", func(ctx context.Context) health.Status {
			return health.Status{Name: "ledger", Healthy: auditor.Healthy(ctx)}
		})
		s.logger.Info("ledger auditing enabled",
			"chain_id", cfg.ChainID,
			"contract", cfg.AuditContract,
			"signer", auditor.Address(),
		)
	} else if s.auditor == nil {
		s.logger.Warn("ledger auditing disabled (no private key configured)")
	}

	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := s.db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Decision pipeline: score, decide, persist, audit
	s.pipeline = transaction.NewPipeline(s.store, s.scorer, s.auditor,
		transaction.WithAuditTimeout(cfg.AuditTimeout),
		transaction.WithPublisher(&hubPublisher{s.realtimeHub}),
	)

	// Reconciliation sweep for audit coverage
	s.reconciler = reconciliation.NewService(s.store)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
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
	// Recovery with logging
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time decision streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	txHandler := transaction.NewHandler(s.pipeline, s.store)
	txHandler.RegisterRoutes(v1)

	// Audit coverage sweep, on demand
	v1.GET("/audit/reconcile", s.reconcileHandler)
}

// -----------------------------------------------------------------------------
// Handlers
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

	allHealthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         "SecureFlow",
		"description":  "Fraud detection pipeline for crypto transactions",
		"version":      "0.1.0",
		"chain":        "base-sepolia",
		"auditEnabled": s.auditor != nil,
	})
}

// reconcileHandler runs an audit coverage sweep and reports the result
func (s *Server) reconcileHandler(c *gin.Context) {
	result, err := s.reconciler.Sweep(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("reconciliation sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to run reconciliation sweep",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op unless OTLP_ENDPOINT is set)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start reconciliation sweeps
	go s.reconciler.Run(runCtx, s.cfg.SweepInterval)

	// Collect DB pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeps)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Drain in-flight audit submissions before closing connections
	s.pipeline.Wait()
	s.logger.Info("audit submissions drained")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close auditor RPC connection
	if s.auditorClose != nil {
		if err := s.auditorClose(); err != nil {
			s.logger.Error("auditor close error", "error", err)
		}
	}

	// Flush traces
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
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

func generateRequestID() string {
	return idgen.Hex(16)
}

// hubPublisher adapts realtime.Hub to transaction.Publisher
type hubPublisher struct {
	hub *realtime.Hub
}

func (p *hubPublisher) PublishDecision(tx *transaction.Transaction) {
	if p.hub == nil {
		return
	}
	p.hub.BroadcastDecision(toRealtimeDecision(tx))
}

func (p *hubPublisher) PublishAudit(tx *transaction.Transaction) {
	if p.hub == nil {
		return
	}
	p.hub.BroadcastAudit(toRealtimeDecision(tx))
}

func toRealtimeDecision(tx *transaction.Transaction) *realtime.Decision {
	return &realtime.Decision{
		ID:          tx.ID,
		FromWallet:  tx.FromWallet,
		ToWallet:    tx.ToWallet,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Status:      string(tx.Status),
		RiskScore:   tx.RiskScore,
		AuditTxHash: tx.AuditTxHash,
	}
}

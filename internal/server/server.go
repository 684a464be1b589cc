// Package server wires the wallet engine together and runs the HTTP server.
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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gigvault/gigvault/internal/config"
	"github.com/gigvault/gigvault/internal/escrow"
	"github.com/gigvault/gigvault/internal/events"
	"github.com/gigvault/gigvault/internal/gateway"
	"github.com/gigvault/gigvault/internal/health"
	"github.com/gigvault/gigvault/internal/idempotency"
	"github.com/gigvault/gigvault/internal/ledger"
	"github.com/gigvault/gigvault/internal/logging"
	"github.com/gigvault/gigvault/internal/metrics"
	"github.com/gigvault/gigvault/internal/ratelimit"
	"github.com/gigvault/gigvault/internal/settlement"
	"github.com/gigvault/gigvault/internal/traces"
	"github.com/gigvault/gigvault/internal/validation"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg            *config.Config
	db             *sql.DB // nil if using in-memory storage
	journal        *ledger.Journal
	projector      *ledger.Projector
	settlement     *settlement.Service
	escrows        *escrow.Service
	intents        gateway.IntentStore
	hub            *events.Hub
	snapshotWorker *ledger.SnapshotWorker
	rateLimiter    *ratelimit.Limiter
	healthChecks   *health.Registry
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	var (
		ledgerStore ledger.Store
		snapshots   ledger.SnapshotStore
		idemStore   idempotency.Store
		escrowStore escrow.Store
	)

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		snapshots = ledger.NewPostgresSnapshotStore(db)
		idemStore = idempotency.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		s.intents = gateway.NewPostgresIntentStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthChecks.Register("database", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	} else {
		ledgerStore = ledger.NewMemoryStore()
		snapshots = ledger.NewMemorySnapshotStore()
		idemStore = idempotency.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		s.intents = gateway.NewMemoryIntentStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.journal = ledger.NewJournal(ledgerStore)
	s.projector = ledger.NewProjector(ledgerStore).WithSnapshots(snapshots)

	s.escrows = escrow.NewService(escrowStore, s.journal, s.logger)
	if cfg.PlatformFeeBps > 0 {
		s.escrows.WithFee(cfg.PlatformAccount, cfg.PlatformFeeBps)
		s.logger.Info("platform fee enabled", "bps", cfg.PlatformFeeBps, "account", cfg.PlatformAccount)
	}

	guard := idempotency.NewGuard(idemStore)

	s.hub = events.NewHub(s.logger)
	s.settlement = settlement.NewService(s.journal, s.projector, s.escrows, guard, s.logger).
		WithPublisher(s.hub)

	s.snapshotWorker = ledger.NewSnapshotWorker(s.projector, ledgerStore, s.logger)
	s.healthChecks.Register("snapshot_worker", func(ctx context.Context) error {
		if !s.snapshotWorker.Running() {
			return errors.New("snapshot worker not running")
		}
		return nil
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

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
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time settlement events
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")

	settlementHandler := settlement.NewHandler(s.settlement, s.logger)
	settlementHandler.RegisterRoutes(v1)
	settlementHandler.RegisterAdminRoutes(v1)

	gatewayHandler := gateway.NewHandler(
		s.settlement,
		s.intents,
		s.cfg.GatewayWebhookSecret,
		s.cfg.RequireDepositIntent,
		s.logger,
	)
	gatewayHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, results := s.healthChecks.Run(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthChecks.Live() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.healthChecks.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "GigVault",
		"description": "Wallet ledger and escrow settlement engine",
		"version":     "0.1.0",
		"currency":    "INR (paise)",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start event hub
	go s.hub.Run(runCtx)

	// Start snapshot maintenance
	go s.snapshotWorker.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.healthChecks.SetReady(true)
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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.healthChecks.SetReady(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, snapshot worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.snapshotWorker.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Warn("traces shutdown error", "error", err)
		}
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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

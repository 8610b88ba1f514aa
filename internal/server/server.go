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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paydrift/paydrift/internal/billing"
	"github.com/paydrift/paydrift/internal/config"
	"github.com/paydrift/paydrift/internal/event"
	"github.com/paydrift/paydrift/internal/health"
	"github.com/paydrift/paydrift/internal/idgen"
	"github.com/paydrift/paydrift/internal/logging"
	"github.com/paydrift/paydrift/internal/notify"
	"github.com/paydrift/paydrift/internal/provider"
	"github.com/paydrift/paydrift/internal/realtime"
	"github.com/paydrift/paydrift/internal/reconcile"
	"github.com/paydrift/paydrift/internal/telemetry"
	"github.com/paydrift/paydrift/internal/tenant"
	"github.com/paydrift/paydrift/internal/traces"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB // nil if using in-memory
	tenants tenant.Store
	subs    billing.Store
	events  event.Store

	provider provider.Client
	notifier notify.Notifier
	engine   *reconcile.Engine
	sweeper  *reconcile.Sweeper
	hub      *realtime.Hub
	checks   *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	shutdownOtel func(context.Context) error
	cancelRunCtx context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithProvider sets a custom provider client (for testing)
func WithProvider(c provider.Client) Option {
	return func(s *Server) { s.provider = c }
}

// WithNotifier sets a custom notifier (for testing)
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var reconStore reconcile.Store
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
		s.tenants = tenant.NewPostgresStore(db)
		s.subs = billing.NewPostgresStore(db)
		s.events = event.NewPostgresStore(db)
		reconStore = reconcile.NewPostgresStore(db, cfg.LockTimeout)
		s.checks.Register("postgres", func(ctx context.Context) health.Status {
			start := time.Now()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "postgres", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "postgres", Healthy: true, Latency: time.Since(start).String()}
		})
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		memEvents := event.NewMemoryStore()
		memSubs := billing.NewMemoryStore()
		memTenants := tenant.NewMemoryStore()
		s.tenants = memTenants
		s.subs = memSubs
		s.events = memEvents
		reconStore = reconcile.NewMemoryStore(memEvents, memSubs, memTenants, cfg.LockTimeout)
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.provider == nil {
		s.provider = provider.NewStripeClient(cfg.StripeAPIKey)
	}
	if s.notifier == nil {
		if cfg.SMTPHost != "" {
			s.notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUser,
				Password: cfg.SMTPPass,
				Sender:   cfg.SMTPSender,
			})
			s.logger.Info("SMTP notifications enabled", "host", cfg.SMTPHost)
		} else {
			s.notifier = &notify.LogNotifier{Logger: s.logger}
			s.logger.Info("SMTP not configured, logging notifications instead")
		}
	}

	// Realtime hub doubles as a telemetry sink for connected dashboards.
	s.hub = realtime.NewHub(s.logger)
	emitter := telemetry.Multi{&telemetry.LogEmitter{Logger: s.logger}, s.hub}

	s.engine = reconcile.NewEngine(
		reconStore, s.events, s.provider, s.notifier, emitter, s.logger,
		reconcile.WithWorkers(cfg.Workers),
		reconcile.WithTriggerBuffer(cfg.TriggerBuffer),
	)
	s.sweeper = reconcile.NewSweeper(s.engine, s.events, cfg.SweepInterval, s.logger)

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
	s.router.Use(s.deliveryIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// deliveryIDMiddleware tags each request with an ID so a webhook delivery
// can be followed through ingest, trigger, and pass logs.
func (s *Server) deliveryIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		deliveryID := c.GetHeader("X-Delivery-ID")
		if deliveryID == "" {
			deliveryID = idgen.New()
		}
		ctx := logging.WithDeliveryID(c.Request.Context(), deliveryID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Delivery-ID", deliveryID)
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

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket for the ops dashboard telemetry stream
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// Inbound provider events
	s.router.POST("/webhooks/stripe", s.stripeWebhookHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/plans", s.listPlansHandler)
	v1.GET("/tenants/:id/subscription", s.getSubscriptionHandler)
	v1.GET("/tenants/:id/subscription/preview", s.previewHandler)
	v1.POST("/tenants/:id/subscription/cancel", s.recordCancellationHandler)
	v1.POST("/tenants", s.createTenantHandler)

	admin := v1.Group("/admin")
	admin.Use(s.requireAdmin())
	admin.POST("/reconcile/:customerID", s.adminReconcileHandler)
	admin.GET("/events", s.adminEventsHandler)
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" || c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin secret required",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.checks.CheckAll(ctx)
	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy || !s.healthy.Load() {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing disabled", "error", err)
		} else {
			s.shutdownOtel = shutdown
		}
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

	go s.hub.Run(runCtx)
	go s.engine.Run(runCtx)
	go s.sweeper.Start(runCtx)

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	s.engine.Stop()

	if s.shutdownOtel != nil {
		if err := s.shutdownOtel(ctx); err != nil {
			s.logger.Warn("tracer shutdown error", "error", err)
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the reconciliation engine for testing
func (s *Server) Engine() *reconcile.Engine {
	return s.engine
}

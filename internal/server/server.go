// Package server wires the sentinel, decoy, risk and alert domains behind
// one HTTP server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/alerts"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/config"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/decoy"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/health"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/idgen"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/metrics"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/ratelimit"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/realtime"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/retry"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/risk"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/security"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/sentinel"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/validation"
)

// Version is reported by /health and /.
const Version = "0.3.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory
	ownsDB       bool
	redis        *redis.Client
	ownsRedis    bool
	profiles     risk.ProfileSource
	riskEngine   *risk.Engine
	decoyEngine  *decoy.Engine
	dispatcher   *alerts.Dispatcher
	sentinel     *sentinel.Service
	realtimeHub  *realtime.Hub
	redisAlerts  *alerts.RedisTransport
	presence     *alerts.Presence
	alertSink    alerts.Transport
	sweeper      *decoy.Sweeper
	rateLimiter  *ratelimit.Limiter
	loginLimiter *ratelimit.Limiter
	health       *health.Registry
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithDB uses an already opened and migrated database instead of
// DATABASE_URL. The caller keeps ownership and closes it.
func WithDB(db *sql.DB) Option {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis uses an existing client instead of REDIS_URL. The caller keeps
// ownership and closes it.
func WithRedis(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithProfiles overrides PROFILES_PATH.
func WithProfiles(p risk.ProfileSource) Option {
	return func(s *Server) {
		s.profiles = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.profiles == nil {
		if cfg.ProfilesPath != "" {
			p, err := risk.LoadProfiles(cfg.ProfilesPath)
			if err != nil {
				return nil, err
			}
			s.profiles = p
			s.logger.Info("risk profiles loaded", "path", cfg.ProfilesPath, "users", len(p))
		} else {
			s.profiles = risk.StaticProfiles{}
			s.logger.Warn("no PROFILES_PATH set, every user is scored as unknown")
		}
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		decoyStore decoy.Store
		alertStore alerts.Store
		riskStore  risk.Store
	)
	if s.db == nil && cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL, s.logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		s.ownsDB = true
		s.logger.Info("using PostgreSQL storage", "url", database.MaskDSN(cfg.DatabaseURL))
	}
	if s.db != nil {
		decoyStore = decoy.NewPostgresStore(s.db)
		alertStore = alerts.NewPostgresStore(s.db)
		riskStore = risk.NewPostgresStore(s.db)
		s.health.Register("database", health.Ping("database", s.db.PingContext))
	} else {
		decoyStore = decoy.NewMemoryStore()
		alertStore = alerts.NewMemoryStore()
		riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.redis == nil && cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL, s.logger)
		if err != nil {
			return nil, err
		}
		s.redis = client
		s.ownsRedis = true
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	s.health.Register("realtime", health.Running("realtime", s.realtimeHub.Running))

	s.riskEngine = risk.NewEngine(s.profiles).WithStore(riskStore).WithLogger(s.logger)
	s.decoyEngine = decoy.NewEngine(decoyStore).WithDefaultTTL(cfg.DecoyTTL).WithLogger(s.logger)
	s.alertSink = s.alertTransport()
	s.dispatcher = alerts.NewDispatcher(alertStore, s.alertSink).WithLogger(s.logger)
	s.sentinel = sentinel.NewService(s.riskEngine, s.decoyEngine, s.dispatcher).WithLogger(s.logger)

	if cfg.SweepInterval > 0 {
		s.sweeper = decoy.NewSweeper(s.decoyEngine, cfg.SweepInterval, s.logger)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// alertTransport fans alerts out to every configured channel. With Redis the
// hub is fed by the pub/sub forwarder started in Run. Each replica subscribes
// only to the users connected to its hub, so a publish nobody receives means
// the user has no live socket on any replica. Without Redis the hub is called
// directly.
func (s *Server) alertTransport() alerts.Transport {
	var transports alerts.MultiTransport
	if s.redis != nil {
		s.redisAlerts = alerts.NewRedisTransport(s.redis)
		s.presence = alerts.NewPresence()
		s.realtimeHub.OnPresence(s.presence.Set)
		transports = append(transports, s.redisAlerts)
		s.health.Register("redis", health.Ping("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
		s.logger.Info("alerts published through redis")
	} else {
		transports = append(transports, &hubTransport{hub: s.realtimeHub})
	}
	if s.cfg.AlertWebhookURL != "" {
		transports = append(transports, alerts.NewWebhookTransport(s.cfg.AlertWebhookURL, s.cfg.AlertWebhookSecret))
		s.logger.Info("alert webhook enabled")
	}
	return transports
}

func connectRedis(ctx context.Context, rawURL string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("server: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("redis not ready, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	if err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("server: connect redis: %w", err)
	}
	return client, nil
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

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSOrigins)))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
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
			logger.Debug("request completed",
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
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live alert channel for the account owner
	s.router.GET("/ws/alerts/:userId", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, c.Param("userId"))
	})

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitRPM / 3,
		CleanupInterval:   time.Minute,
	})
	s.loginLimiter = ratelimit.New(ratelimit.DefaultConfig())

	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware("api"))

	sentinel.NewHandler(s.sentinel, s.loginLimiter).RegisterRoutes(v1)
	risk.NewHandler(s.riskEngine).RegisterRoutes(v1)
	decoy.NewHandler(s.decoyEngine).RegisterRoutes(v1)
	alerts.NewHandler(s.dispatcher).RegisterRoutes(v1)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Realtime  gin.H           `json:"realtime"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
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
		"name":        "Cerberus",
		"description": "Credential sentinel and decoy sessions",
		"version":     Version,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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

	s.startBackground(runCtx)

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

// startBackground launches the hub, the expiry sweeper, the redis fan-in and
// the pool stats collector.
func (s *Server) startBackground(ctx context.Context) {
	go s.realtimeHub.Run(ctx)

	if s.sweeper != nil {
		go s.sweeper.Start(ctx)
		s.health.Register("sweeper", health.Running("sweeper", s.sweeper.Running))
	}

	if s.redisAlerts != nil {
		go s.forwardRedisAlerts(ctx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}
}

// forwardRedisAlerts feeds alerts published by any replica to local
// websocket clients, resubscribing from the hub's current users until ctx
// ends.
func (s *Server) forwardRedisAlerts(ctx context.Context) {
	hub := &hubTransport{hub: s.realtimeHub}
	for {
		s.presence.Drain()
		err := s.redisAlerts.Forward(ctx, s.realtimeHub.Users(), s.presence, func(userID string, a *alerts.Alert) {
			_ = hub.Deliver(ctx, userID, a)
		})
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("redis alert subscription ended, resubscribing", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.Close()
	s.logger.Info("server stopped")
	return nil
}

// Close releases background workers and connections without touching the
// HTTP listener. Safe to call on a server that never ran.
func (s *Server) Close() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}

	// Pending audit records need the database, so flush before closing it.
	s.riskEngine.Flush()

	if s.redis != nil && s.ownsRedis {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil && s.ownsDB {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// hubTransport delivers alerts to the user's open websocket connections.
type hubTransport struct {
	hub *realtime.Hub
}

func (t *hubTransport) Deliver(_ context.Context, userID string, a *alerts.Alert) error {
	n, err := t.hub.SendToUser(userID, &realtime.Event{
		Type:      realtime.EventAlert,
		Timestamp: a.CreatedAt,
		Data:      a,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return alerts.ErrUnreachable
	}
	return nil
}

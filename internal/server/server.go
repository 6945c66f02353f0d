// Package server exposes the settlement engine's operational HTTP
// surface: liveness/readiness/health probes and the Prometheus metrics
// endpoint. It deliberately does not implement a REST API over
// settlement/batch/netting — those are driven programmatically or
// via whatever transport an external collaborator chooses to put in
// front of this codebase, so this exposes only the health-check and
// metrics slice of an HTTP server rather than a full REST API.
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

	"github.com/settlekit/settlement-engine/internal/batch"
	"github.com/settlekit/settlement-engine/internal/config"
	"github.com/settlekit/settlement-engine/internal/idempotency"
	"github.com/settlekit/settlement-engine/internal/logging"
	"github.com/settlekit/settlement-engine/internal/metrics"
)

// Server wraps the HTTP server and the background workers it owns.
type Server struct {
	cfg    *config.Config
	db     *sql.DB // nil if using in-memory stores
	router *gin.Engine
	httpSrv *http.Server
	logger *slog.Logger

	batchTimer      *batch.Timer
	idempotencyTimer *idempotency.Timer

	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithDB attaches the database pool the readiness probe should ping.
func WithDB(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithBatchTimer attaches the batch auto-close scheduler to the
// server's lifecycle so it starts/stops alongside the HTTP listener.
func WithBatchTimer(t *batch.Timer) Option {
	return func(s *Server) { s.batchTimer = t }
}

// WithIdempotencyTimer attaches the idempotency-key TTL sweeper.
func WithIdempotencyTimer(t *idempotency.Timer) Option {
	return func(s *Server) { s.idempotencyTimer = t }
}

// New creates a server instance and wires its routes.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, logger: logging.New(cfg.LogLevel, "json")}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), metrics.Middleware())

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/live", s.livenessHandler)
	s.router.GET("/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
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

	checks := make(map[string]string)
	allOK := true
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			allOK = false
		} else {
			checks["database"] = "healthy"
		}
	}

	if !allOK {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// Run starts the HTTP server and background workers with graceful
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting settlement engine", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.batchTimer != nil {
		go s.batchTimer.Start(runCtx)
	}
	if s.idempotencyTimer != nil {
		go s.idempotencyTimer.Start(runCtx)
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.logger.Info("batch timer stopped")
	}
	if s.idempotencyTimer != nil {
		s.idempotencyTimer.Stop()
		s.logger.Info("idempotency timer stopped")
	}

	s.healthy.Store(false)
	s.logger.Info("shutdown complete")
	return nil
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/admission"
	"github.com/aman-churiwal/admission-engine/internal/analytics"
	"github.com/aman-churiwal/admission-engine/internal/burst"
	"github.com/aman-churiwal/admission-engine/internal/config"
	"github.com/aman-churiwal/admission-engine/internal/conntrack"
	"github.com/aman-churiwal/admission-engine/internal/handler"
	"github.com/aman-churiwal/admission-engine/internal/health"
	"github.com/aman-churiwal/admission-engine/internal/metrics"
	"github.com/aman-churiwal/admission-engine/internal/middleware"
	"github.com/aman-churiwal/admission-engine/internal/policy"
	"github.com/aman-churiwal/admission-engine/internal/quota"
	"github.com/aman-churiwal/admission-engine/internal/ratelimit"
	"github.com/aman-churiwal/admission-engine/internal/recorder"
	"github.com/aman-churiwal/admission-engine/internal/repository"
	"github.com/aman-churiwal/admission-engine/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Server struct {
	router       *gin.Engine
	config       *config.Config
	engine       *admission.Engine
	rec          *recorder.Recorder
	conns        *conntrack.Tracker
	bursts       *burst.Guard
	checker      *health.Checker
	usageHandler *handler.UsageHandler
	httpServer   *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	registry := policy.NewRegistry(cfg.Tiers, cfg.Endpoints)
	usageRepo := repository.NewUsageRepository(postgres)

	rec := recorder.New(usageRepo, cfg.Recorder.BufferSize)
	quotaTracker := quota.NewTracker(usageRepo)
	connTracker := conntrack.New()
	burstGuard := burst.New()
	limiter := ratelimit.NewLimiter(redis)

	engine := admission.NewEngine(
		registry,
		limiter,
		quotaTracker,
		connTracker,
		burstGuard,
		rec,
		cfg.Admission.FailOpen,
	)

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(prometheus.DefaultRegisterer, engine.ActiveConnections)
		engine.OnDecision(collector.ObserveDecision)
	}

	analyticsService := analytics.NewService(usageRepo, quotaTracker, registry)

	checker := health.NewChecker(redis, postgres, health.Config{})
	checker.Start()

	sweep := cfg.Admission.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	connTracker.StartSweep(sweep)
	burstGuard.StartSweep(sweep)

	s := &Server{
		router:       router,
		config:       cfg,
		engine:       engine,
		rec:          rec,
		conns:        connTracker,
		bursts:       burstGuard,
		checker:      checker,
		usageHandler: handler.NewUsageHandler(analyticsService),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, metrics.Handler())
	}

	s.router.GET("/v1/usage/stats", s.usageHandler.GetStats)
	s.router.GET("/v1/usage/tenant-stats", s.usageHandler.GetTenantStats)

	// Everything under /api runs through the admission pipeline. The
	// host service mounts its own handlers here; the placeholder
	// acknowledges admitted requests so the gate is testable on its own.
	api := s.router.Group("/api")
	api.Use(middleware.Identity())
	api.Use(middleware.Admission(s.engine))
	api.Any("/*path", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"admitted": true})
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	counterOK, usageOK := s.checker.Status()

	status := "healthy"
	statusCode := http.StatusOK
	if !counterOK || !usageOK {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":                  status,
		"counter_store_reachable": counterOK,
		"usage_store_reachable":   usageOK,
		"active_connections":      s.engine.ActiveConnections(),
		"timestamp":               time.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP listener first, then the background workers,
// so no request can reach a stopped recorder.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.checker.Stop()
	s.conns.Stop()
	s.bursts.Stop()
	s.rec.Stop()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

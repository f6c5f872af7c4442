// Package api implements the Serving API (C12): a gin HTTP server
// exposing prediction, model-introspection, and A/B-control endpoints
// over the prediction pipeline, grounded directly on the teacher's
// internal/api/server.go (router setup, rate limiter, route grouping)
// and internal/api/websocket.go (the live-event push channel).
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fxreversal/config"
	"fxreversal/internal/auth"
	"fxreversal/internal/cache"
	"fxreversal/internal/experiment"
	"fxreversal/internal/logging"
	"fxreversal/internal/model/predictor"
	"fxreversal/internal/registry"
	"fxreversal/internal/store"
)

// RateLimiter is a simple in-memory sliding-window limiter per
// endpoint path, unchanged from the teacher's implementation.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{requests: make(map[string][]time.Time), limit: limit, window: window}
}

func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Server wires the registry, predictor, experiment manager, and
// supporting infra into a gin router.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	sequence   config.SequenceConfig

	registry    *registry.Registry
	predictor   *predictor.Predictor
	experiments *experiment.Manager
	cache       *cache.CacheService // nil when Redis is disabled
	repo        *store.Repository   // nil when Postgres is disabled

	rateLimiter *RateLimiter
	hub         *WSHub

	jwtManager   *auth.JWTManager // nil when auth is disabled
	authService  *auth.Service    // nil when auth is disabled or Postgres is unavailable
	authHandlers *auth.Handlers   // nil alongside authService
	authEnabled  bool

	log *logging.Logger
}

// Deps bundles the Server's collaborators so NewServer's signature
// stays stable as the ambient/domain stack grows.
type Deps struct {
	Registry    *registry.Registry
	Predictor   *predictor.Predictor
	Experiments *experiment.Manager
	Cache       *cache.CacheService
	Repo        *store.Repository
	Auth        config.AuthConfig
}

func NewServer(cfg config.ServerConfig, sequence config.SequenceConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	var jwtManager *auth.JWTManager
	var authService *auth.Service
	var authHandlers *auth.Handlers
	if deps.Auth.Enabled {
		authCfg := auth.Config{
			JWTSecret:            deps.Auth.JWTSecret,
			AccessTokenDuration:  deps.Auth.AccessTokenDuration,
			RefreshTokenDuration: 24 * time.Hour,
			MinPasswordLength:    8,
		}
		if deps.Repo != nil {
			authService = auth.NewService(deps.Repo, authCfg)
			authHandlers = auth.NewHandlers(authService)
			jwtManager = authService.GetJWTManager()
		} else {
			jwtManager = auth.NewJWTManager(authCfg.JWTSecret, authCfg.AccessTokenDuration, authCfg.RefreshTokenDuration)
		}
	}

	s := &Server{
		router:       router,
		config:       cfg,
		sequence:     sequence,
		registry:     deps.Registry,
		predictor:    deps.Predictor,
		experiments:  deps.Experiments,
		cache:        deps.Cache,
		repo:         deps.Repo,
		rateLimiter:  NewRateLimiter(120, time.Minute),
		hub:          NewWSHub(),
		jwtManager:   jwtManager,
		authService:  authService,
		authHandlers: authHandlers,
		authEnabled:  deps.Auth.Enabled,
		log:          logging.Default().WithComponent("api"),
	}

	go s.hub.Run()
	s.setupRoutes()
	return s
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, envelope{Success: false, Error: "rate limit exceeded", Timestamp: time.Now()})
			c.Abort()
			return
		}
		c.Next()
	}
}

// mutatingAuthMiddleware protects model-switch and experiment-control
// routes when auth is enabled, a no-op otherwise (per §6.3 "auth
// enabled" being one of several deployment profiles, not a hard
// requirement of the serving contract).
func (s *Server) mutatingAuthMiddleware() gin.HandlerFunc {
	if !s.authEnabled {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.Middleware(s.jwtManager)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/reversal/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/reversal/ws", s.handleWebSocket)

	if s.authHandlers != nil {
		s.authHandlers.RegisterRoutes(s.router.Group("/auth"), s.jwtManager)
	}

	reversal := s.router.Group("/reversal")
	reversal.Use(s.rateLimitMiddleware())
	{
		reversal.POST("/predict", s.handlePredict)
		reversal.POST("/predict_raw", s.handlePredictRaw)
		reversal.POST("/compare", s.handleCompare)
		reversal.POST("/compare_raw", s.handleCompareRaw)

		reversal.GET("/models", s.handleListModels)
		reversal.GET("/models/:version", s.handleGetModel)

		mutating := reversal.Group("")
		mutating.Use(s.mutatingAuthMiddleware())
		{
			mutating.POST("/models/:version/switch", s.handleSwitchModel)

			mutating.POST("/experiments", s.handleCreateExperiment)
			mutating.POST("/experiments/:id/activate", s.handleActivateExperiment)
			mutating.POST("/experiments/:id/stop", s.handleStopExperiment)
		}

		reversal.GET("/experiments", s.handleListExperiments)
		reversal.GET("/experiments/:id/metrics", s.handleExperimentMetrics)
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.WithField("addr", addr).Info("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	statusCode := http.StatusOK
	dbHealthy := true
	if s.repo != nil {
		if err := s.repo.HealthCheck(ctx); err != nil {
			dbHealthy = false
		}
	}
	cacheHealthy := s.cache == nil || s.cache.IsHealthy()
	if !dbHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	activeVersion := ""
	if v := s.registry.GetActive(); v != nil {
		activeVersion = v.VersionID
	} else if statusCode == http.StatusOK {
		status = "degraded"
	}

	c.JSON(statusCode, gin.H{
		"status":         status,
		"database":       dbHealthy,
		"cache":          cacheHealthy,
		"active_version": activeVersion,
	})
}

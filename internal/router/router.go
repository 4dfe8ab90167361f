package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/settlement-api/internal/handler"
	"github.com/jwalitptl/settlement-api/internal/handler/health"
	"github.com/jwalitptl/settlement-api/internal/handler/prometheus"
	"github.com/jwalitptl/settlement-api/internal/middleware"
)

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	health   *health.Handler
	metrics  *prometheus.Handler
	handlers []handler.Routes
	config   RouterConfig
}

type RouterConfig struct {
	Mode           string
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxBodySize    int64
	MetricsPath    string
	Logger         zerolog.Logger
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	config RouterConfig,
	handlers ...handler.Routes,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		health:   healthH,
		metrics:  metricsH,
		handlers: handlers,
		config:   config,
	}

	timeout := middleware.DefaultTimeoutConfig()
	if config.RequestTimeout > 0 {
		timeout.Duration = config.RequestTimeout
	}
	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodySize > 0 {
		sizeLimit.MaxBodySize = config.MaxBodySize
	}

	// RequestID binds the request logger, so it runs before everything
	// that logs.
	engine.Use(
		middleware.RequestID(config.Logger),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metrics.Middleware(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.SizeLimit(sizeLimit),
		middleware.Timeout(timeout),
	)
	engine.Use(cors.New(corsConfig(config.AllowedOrigins)))

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (r *Router) Setup() {
	metricsPath := r.config.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.engine.GET(metricsPath, r.metrics.Handler())

	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.health.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range r.handlers {
		h.RegisterRoutes(protected, r.auth)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

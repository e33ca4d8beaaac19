// Package api wires together all HTTP routes for the Cloud Guardrail backend.
//
// Route grouping philosophy:
//   - /health and /version are public: load balancers and deploy tooling probe
//     them without credentials.
//   - Everything under /api/v1/ requires a valid JWT. The action endpoint
//     additionally checks the caller's role before any AWS call is made.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
	"github.com/cloud-guardrail/cloud-guardrail/internal/api/actions"
	"github.com/cloud-guardrail/cloud-guardrail/internal/api/auditlogs"
	"github.com/cloud-guardrail/cloud-guardrail/internal/audit"
	"github.com/cloud-guardrail/cloud-guardrail/internal/auth"
	"github.com/cloud-guardrail/cloud-guardrail/internal/awscloud"
	"github.com/cloud-guardrail/cloud-guardrail/internal/cache"
	"github.com/cloud-guardrail/cloud-guardrail/internal/config"
	"github.com/cloud-guardrail/cloud-guardrail/internal/db/repositories"
	"github.com/cloud-guardrail/cloud-guardrail/internal/middleware"
	"github.com/cloud-guardrail/cloud-guardrail/internal/protection"
)

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// after the HTTP server has drained so that in-flight requests still get
// their audit entries shipped.
type BackgroundServices struct {
	shipper      *audit.MultiShipper
	invCache     *cache.Cache
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines and flushes the audit shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	if bg.invCache != nil {
		if err := bg.invCache.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	auditRepo := repositories.NewAuditRepository(db)

	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	recorder := audit.NewRecorder(auditRepo, shipper, cfg.Audit.WriteTimeout, slog.Default())

	policy := protection.NewEngine(cfg.Protection)

	awsClients, err := awscloud.NewClients(context.Background(), &cfg.AWS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize AWS clients: %w", err)
	}
	slog.Info("AWS clients initialized", "region", awsClients.Region, "auth_method", cfg.AWS.AuthMethod)

	registry := action.NewRegistry()
	awscloud.RegisterAdapters(registry, awsClients)

	tagFetcher := awscloud.NewTagFetcher(awsClients)
	executor := action.NewExecutor(registry, policy, tagFetcher, recorder, cfg.AWS.CallTimeout, slog.Default())

	invCache, err := cache.New(context.Background(), &cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis cache: %w", err)
	}
	if invCache != nil {
		slog.Info("redis inventory cache enabled", "addr", cfg.Redis.Addr)
	}

	actionsHandler := actions.NewHandler(executor, invCache, cfg.AWS.Region, slog.Default())
	auditHandler := auditlogs.NewHandler(auditRepo, slog.Default())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API version
	router.GET("/version", versionHandler())

	bg := &BackgroundServices{
		shipper:  shipper,
		invCache: invCache,
	}

	apiV1 := router.Group("/api/v1")

	// Rate limiting applies before authentication so that credential-stuffing
	// bursts get throttled too. With Redis configured the budget is shared
	// across replicas; otherwise each instance enforces its own.
	if cfg.Security.RateLimiting.Enabled {
		if invCache != nil {
			redisLimiter := redis_rate.NewLimiter(invCache.Client())
			apiV1.Use(middleware.RedisRateLimitMiddleware(
				redisLimiter,
				cfg.Security.RateLimiting.RequestsPerMinute,
				cfg.Security.RateLimiting.Burst,
			))
		} else {
			limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
				RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
				BurstSize:         cfg.Security.RateLimiting.Burst,
				CleanupInterval:   5 * time.Minute,
			})
			bg.rateLimiters = append(bg.rateLimiters, limiter)
			apiV1.Use(middleware.RateLimitMiddleware(limiter))
		}
	}

	apiV1.Use(middleware.AuthMiddleware())
	{
		apiV1.POST("/actions/:resource_type/:action", actionsHandler.Execute)

		// The audit trail exposes who did what; reading it is admin-only.
		auditGroup := apiV1.Group("/audit")
		auditGroup.Use(middleware.RequireRole(auth.RoleAdmin))
		{
			auditGroup.GET("", auditHandler.List)
			auditGroup.GET("/export", auditHandler.Export)
			auditGroup.GET("/:id", auditHandler.Get)
		}
	}

	return router, bg, nil
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "cloud-guardrail",
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", middleware.ExtractClientIP(c)),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

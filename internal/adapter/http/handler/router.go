package handler

import (
	"webhook-delivery-engine/config"
	"webhook-delivery-engine/internal/adapter/http/middleware"
	redisStore "webhook-delivery-engine/internal/adapter/storage/redis"
	"webhook-delivery-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Dispatcher     ports.Dispatcher
	Executor       ports.DeliveryExecutor
	ReportingSvc   ports.ReportingService
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	Producer       config.ProducerConfig
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// All API routes require producer HMAC authentication: the engine is
	// an internal subsystem, and the dashboard backend calls it with the
	// same credentials the event producers use.
	producerAuth := middleware.ProducerAuth(deps.Producer, deps.SigSvc, deps.NonceStore, deps.Logger)
	v1 := r.Group("/api/v1", producerAuth)

	// --- Event ingest ---
	eventHandler := NewEventHandler(deps.Dispatcher)
	v1.POST("/events", rl("events"), eventHandler.Ingest)

	// --- Dashboard reads & test sends ---
	endpointHandler := NewEndpointHandler(deps.ReportingSvc, deps.Executor)
	v1.GET("/scopes/:scope_id/endpoints", rl("dashboard"), endpointHandler.ListByScope)
	endpoints := v1.Group("/endpoints")
	{
		endpoints.GET("/:id", rl("dashboard"), endpointHandler.Get)
		endpoints.GET("/:id/attempts", rl("dashboard"), endpointHandler.ListAttempts)
		endpoints.POST("/:id/test", rl("test_send"), endpointHandler.SendTest)
	}

	return r
}

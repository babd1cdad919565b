package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webhook-delivery-engine/config"
	httpHandler "webhook-delivery-engine/internal/adapter/http/handler"
	pgStorage "webhook-delivery-engine/internal/adapter/storage/postgres"
	redisStorage "webhook-delivery-engine/internal/adapter/storage/redis"
	"webhook-delivery-engine/internal/core/ports"
	"webhook-delivery-engine/internal/service"
	"webhook-delivery-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Webhook Delivery Engine")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	endpointRepo := pgStorage.NewEndpointRepo(pool)
	deliveryRepo := pgStorage.NewDeliveryRepo(pool)

	// Initialize Redis stores
	statsCache := redisStorage.NewStatsCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()

	// Initialize the delivery engine
	backoff := service.Backoff{Cap: cfg.Webhook.BackoffCap}
	deliverySvc := service.NewDeliveryService(
		endpointRepo,
		deliveryRepo,
		encSvc,
		sigSvc,
		statsCache,
		&http.Client{}, // per-attempt timeouts come from endpoint configuration
		backoff,
		cfg.Webhook.ExcerptLimit,
		cfg.Webhook.UserAgent,
		log,
	)
	dispatchSvc := service.NewDispatchService(endpointRepo, deliveryRepo, deliverySvc, log)
	reportingSvc := service.NewReportingService(endpointRepo, deliveryRepo, statsCache, log)
	sweeper := service.NewRetrySweeper(
		deliveryRepo,
		endpointRepo,
		deliverySvc,
		cfg.Webhook.SweepBatchSize,
		cfg.Webhook.SweepInterval,
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Dispatcher:     dispatchSvc,
		Executor:       deliverySvc,
		ReportingSvc:   reportingSvc,
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		Producer:       cfg.Producer,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Start the retry sweeper
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(sweepCtx)
	}()

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop the sweeper after the server so in-flight requests can still
	// enqueue; claimed-but-unfinished retries are re-claimed after the
	// lease lapses.
	stopSweeper()
	select {
	case <-sweeperDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Retry sweeper did not stop in time")
	}

	log.Info().Msg("Server exited")
}

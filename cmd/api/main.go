package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/cache"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/database"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/middleware"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/queue"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/signer"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/upload"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to apply schema: %v", err)
	}

	contents := database.NewContentRepository(db, logger)
	users := database.NewUserRepository(db, logger)

	// Initialize storage
	stor, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	checks := map[string]HealthCheck{
		"database": db.Health,
		"storage":  stor.Ping,
	}

	// Entitlement lookups go through Redis when the cache is enabled
	var access signer.AccessLookup = contents
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewCache(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()

		access = cache.NewAccessCache(redisCache, contents, cfg.Cache.AccessTTL)
		checks["redis"] = redisCache.Ping
	}

	key, err := signer.KeyFromConfig(cfg.Signing)
	if err != nil {
		logger.Fatalf("Failed to load signing key: %v", err)
	}
	issuer, err := signer.NewIssuer(cfg.Signing, key, access)
	if err != nil {
		logger.Fatalf("Failed to configure URL signer: %v", err)
	}

	api := &API{
		contents: contents,
		users:    users,
		signer:   issuer,
		intake:   upload.NewIntake(contents, q, cfg.Upload.IncomingDir, cfg.Upload.MaxBytes, logger),
		checks:   checks,
		logger:   logger,
		now:      time.Now,
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	go limiter.Cleanup(ctx, 10*time.Minute)

	router := setupRouter(api, middleware.NewAuthenticator(cfg.Auth.JWTSecret), limiter, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, auth *middleware.Authenticator, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		v1.POST("/contents/:id/video", auth.RequireAuth(), api.uploadVideo)
		v1.GET("/contents/:id/stream", auth.OptionalAuth(), api.getStream)
		v1.GET("/contents/:id/thumbnail", api.getThumbnail)
		v1.GET("/contents/:id/processing", api.getProcessing)
	}

	return router
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/streamvault/internal/cache"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/config"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/database"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/publish"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/queue"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/signer"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/streamvault/internal/webhook"
	"github.com/therealutkarshpriyadarshi/streamvault/pkg/models"
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

	baseLogger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	workerID := uuid.New().String()
	logger := baseLogger.WithWorkerID(workerID)

	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Create context with cancellation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	contents := database.NewContentRepository(db, logger)

	// Initialize storage
	stor, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	key, err := signer.KeyFromConfig(cfg.Signing)
	if err != nil {
		logger.Fatalf("Failed to load signing key: %v", err)
	}
	issuer, err := signer.NewIssuer(cfg.Signing, key, nil)
	if err != nil {
		logger.Fatalf("Failed to configure URL signer: %v", err)
	}

	opts := []pipeline.Option{pipeline.WithTempDir(cfg.Transcoder.TempDir)}
	if notifier := webhook.NewService(cfg.Webhook, logger); notifier.Enabled() {
		opts = append(opts, pipeline.WithNotifier(notifier))
	}

	orchestrator := pipeline.NewOrchestrator(
		contents,
		transcoder.NewEngine(cfg.Transcoder, nil, logger),
		publish.NewPublisher(stor, logger),
		issuer,
		logger,
		opts...,
	)

	// Redis guards against two workers running the same content at once
	var locks *cache.Cache
	if cfg.Cache.Enabled {
		locks, err = cache.NewCache(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer locks.Close()
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()

		go q.MonitorDepth(ctx, 30*time.Second)
	}

	handler := newJobHandler(orchestrator, locks, cfg.Worker.JobTimeout, logger)

	logger.Infof("Worker started with concurrency %d, waiting for jobs...", cfg.Worker.Concurrency)
	if err := q.ConsumeJobs(ctx, cfg.Worker.Concurrency, cfg.Worker.JobTimeout, handler); err != nil {
		logger.ErrorWithErr("Failed to consume jobs", err)
	}

	logger.Info("Worker stopped")
}

// errContentBusy marks a job whose content is being processed by another worker
var errContentBusy = errors.New("content is being processed by another worker")

// processor runs the pipeline for one upload
type processor interface {
	Process(ctx context.Context, contentID int64, sourcePath string) error
}

// newJobHandler runs the orchestrator for one job, holding a per-content lock
// when locks is set. Only lock contention is retried; the orchestrator removes
// the source on every run, so its failures are final.
func newJobHandler(orchestrator processor, locks *cache.Cache, jobTimeout time.Duration, logger *logging.Logger) queue.Handler {
	lockTTL := jobTimeout + time.Minute
	if jobTimeout <= 0 {
		lockTTL = 2 * time.Hour
	}

	return func(ctx context.Context, job *models.ProcessJob) error {
		jobLogger := logger.WithJobID(job.ID).WithContentID(job.ContentID)

		if locks != nil {
			lock, err := locks.AcquireLock(ctx, fmt.Sprintf("content:%d", job.ContentID), lockTTL)
			if errors.Is(err, cache.ErrLockHeld) {
				return errContentBusy
			}
			if err != nil {
				return fmt.Errorf("acquire content lock: %w", err)
			}
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					jobLogger.WithError(err).Warn("Failed to release content lock")
				}
			}()
		}

		jobLogger.Infof("Processing attempt %d", job.Attempt)
		return orchestrator.Process(ctx, job.ContentID, job.SourcePath)
	}
}

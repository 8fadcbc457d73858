// Command worker runs the OCR processing pool with its reaper, the startup
// recovery pass and the forwarder retry drainer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/filot/docverify/internal/adapter/blob/s3blob"
	"github.com/filot/docverify/internal/adapter/ocr/httpocr"
	"github.com/filot/docverify/internal/adapter/queue/redisq"
	"github.com/filot/docverify/internal/adapter/repo/postgres"
	"github.com/filot/docverify/internal/adapter/reviewer/buli2"
	"github.com/filot/docverify/internal/config"
	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
	"github.com/filot/docverify/internal/scoring"
	"github.com/filot/docverify/internal/usecase"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()
	queue := redisq.New(rdb, cfg.QueuePrefix, redisq.Family(cfg.OCREngine))

	blob, err := s3blob.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		slog.Error("blob store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	userRepo := postgres.NewUserRepo(pool)
	docRepo := postgres.NewDocumentRepo(pool)
	reviewRepo := postgres.NewReviewRepo(pool)

	forwarder := buli2.New(cfg.Buli2APIURL, cfg.Buli2APIKey, cfg.Buli2CallbackURL, buli2.NewRetryQueue(rdb))
	thresholds := scoring.Thresholds{
		AutoApprove: cfg.ScoreThresholdAutoApprove,
		AutoReject:  cfg.ScoreThresholdAutoReject,
	}
	verifier := usecase.NewVerificationService(docRepo, userRepo, reviewRepo, forwarder, thresholds)

	var primary, fallback domain.OCREngine
	workers := cfg.WorkerCount
	lockTTL := cfg.ProcessingLockTTL
	maxAttempts := cfg.MaxAttempts
	stuckAfter := cfg.StuckTimeout
	reaperEvery := cfg.ReaperInterval
	if cfg.OCREngine == "gpu" {
		primary = httpocr.New("gpu", cfg.OCRGPUURL)
		if cfg.OCRAutoFallback {
			fallback = httpocr.New("cpu", cfg.OCRCPUURL)
		}
		workers = cfg.OCRGPUConcurrency
		lockTTL = cfg.OCRGPULockTTL
		maxAttempts = cfg.OCRGPUMaxRetries
		stuckAfter = cfg.OCRGPUStuckAfter
		reaperEvery = cfg.OCRGPUReaperEvery
	} else {
		primary = httpocr.New("cpu", cfg.OCRCPUURL)
	}

	// Recovery blocks until the substrate is reachable, then reconciles rows
	// stranded in processing by a previous crash.
	if err := redisq.NewRecovery(queue, docRepo).Run(ctx); err != nil {
		slog.Error("startup recovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	workerPool := redisq.NewWorkerPool(queue, docRepo, blob, primary, fallback, verifier, redisq.WorkerConfig{
		Count:         workers,
		LockTTL:       lockTTL,
		SweepInterval: cfg.RetrySweepEvery,
		MaxAttempts:   maxAttempts,
		Bucket:        cfg.S3Bucket,
		QueueName:     cfg.OCREngine,
	})
	reaper := redisq.NewReaper(queue, docRepo, reaperEvery, stuckAfter, maxAttempts)
	drainer := buli2.NewDrainer(forwarder, docRepo, reviewRepo, 5*time.Second)

	go reaper.Run(ctx)
	go drainer.Run(ctx)

	slog.Info("worker starting",
		slog.String("engine", cfg.OCREngine),
		slog.Int("workers", workers),
		slog.Int("max_attempts", maxAttempts))
	workerPool.Run(ctx)
	slog.Info("worker stopped")
}

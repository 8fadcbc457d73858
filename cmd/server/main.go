// Command server starts the document verification HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/filot/docverify/internal/adapter/blob/s3blob"
	"github.com/filot/docverify/internal/adapter/httpserver"
	"github.com/filot/docverify/internal/adapter/ocr/httpocr"
	"github.com/filot/docverify/internal/adapter/queue/redisq"
	"github.com/filot/docverify/internal/adapter/repo/postgres"
	"github.com/filot/docverify/internal/adapter/reviewer/buli2"
	"github.com/filot/docverify/internal/app"
	"github.com/filot/docverify/internal/config"
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

	ctx := context.Background()
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, cfg.DBURL); err != nil {
			slog.Error("migrations failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
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
	if err := blob.EnsureBucket(ctx); err != nil {
		slog.Error("bucket bootstrap failed", slog.Any("error", err))
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

	ocrURL := cfg.OCRCPUURL
	if cfg.OCREngine == "gpu" {
		ocrURL = cfg.OCRGPUURL
	}
	ocr := httpocr.New(cfg.OCREngine, ocrURL)

	dbCheck, redisCheck, ocrCheck := app.BuildReadinessChecks(pool, queue, ocr)
	srv := &httpserver.Server{
		Uploads:        usecase.NewUploadService(docRepo, blob, cfg.MaxUploadMB<<20),
		Process:        usecase.NewProcessService(docRepo, queue, cfg.OCREngine),
		Results:        usecase.NewResultService(docRepo, blob, cfg.S3Bucket, cfg.PresignTTL),
		Verifier:       verifier,
		Reviews:        usecase.NewReviewService(reviewRepo, docRepo, verifier),
		Users:          usecase.NewUserService(userRepo),
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		DBCheck:        dbCheck,
		RedisCheck:     redisCheck,
		OCRCheck:       ocrCheck,
		BreakerState:   forwarder.BreakerState,
	}
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

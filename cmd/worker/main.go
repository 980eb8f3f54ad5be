package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/platform/lock"
	"github.com/meridian-pos/meridian-pos/internal/procurement"
	"github.com/meridian-pos/meridian-pos/internal/sequence"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	locks := lock.NewRedis(redisClient, cfg.LockWait, cfg.LockLease)
	idempotency := shared.NewIdempotencyStore(pool)

	allocator := sequence.NewAllocator(sequence.NewRepository(pool), locks, cfg.CounterFloor)
	recorder := inventory.NewRecorder(inventory.NewRepository(pool), idempotency)
	orders := procurement.NewService(
		procurement.NewRepository(pool),
		recorder,
		allocator,
		locks,
		procurement.ServiceConfig{
			OrderCounterID:   cfg.OrderCounterID,
			ReceiptCounterID: cfg.ReceiptCounterID,
		},
	)

	reconJob := jobs.NewReconScanJob(orders, logger, nil)
	serialJob := jobs.NewSerialWatchJob(allocator, logger, nil)
	cleanupJob := jobs.NewCleanupJob(idempotency, logger, nil)

	reconTask, err := jobs.NewReconScanTask(jobs.ReconScanPayload{})
	if err != nil {
		logger.Error("build recon task", slog.Any("error", err))
		os.Exit(1)
	}
	serialTask, err := jobs.NewSerialWatchTask(jobs.SerialWatchPayload{WarnRemaining: cfg.SerialWarnRemaining})
	if err != nil {
		logger.Error("build serial watch task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewCleanupTask(jobs.CleanupPayload{RetentionHours: int(cfg.IdempotencyRetention.Hours())})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconScan, Handler: reconJob.Handle},
			{Type: jobs.TaskSerialWatch, Handler: serialJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconScanCron, Task: reconTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.SerialWatchCron, Task: serialTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

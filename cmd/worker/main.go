package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/blocadmin/blocadmin/internal/app"
	"github.com/blocadmin/blocadmin/internal/platform/cache"
	"github.com/blocadmin/blocadmin/internal/platform/db"
	"github.com/blocadmin/blocadmin/internal/policy"
	"github.com/blocadmin/blocadmin/internal/receipt"
	"github.com/blocadmin/blocadmin/internal/sheet"
	"github.com/blocadmin/blocadmin/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The queue cannot run without redis, so fail fast here.
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

	sheetRepo := sheet.NewRepository(pool)
	receiptRepo := receipt.NewRepository(pool)
	penalty := policy.NewPercentagePolicy(cfg.PenaltyPercent, cfg.PenaltyGrace)
	accrualJob := jobs.NewPenaltyAccrualJob(pool, sheetRepo, receiptRepo, penalty.Delta, logger)
	sweepJob := jobs.NewArchiveSweepJob(pool, logger)

	var cron []jobs.CronRegistration
	if cfg.PenaltyAccrualCron != "" {
		accrualTask, err := jobs.NewPenaltyAccrualTask(jobs.PenaltyAccrualPayload{})
		if err != nil {
			logger.Error("build accrual task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.PenaltyAccrualCron,
			Task:    accrualTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}
	if cfg.ArchiveSweepCron != "" {
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.ArchiveSweepCron,
			Task:    jobs.NewArchiveSweepTask(),
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPenaltyAccrual, Handler: accrualJob.Handle},
			{Type: jobs.TaskArchiveSweep, Handler: sweepJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

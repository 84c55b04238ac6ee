package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/blocadmin/blocadmin/internal/app"
	"github.com/blocadmin/blocadmin/internal/platform/db"
	"github.com/blocadmin/blocadmin/internal/policy"
	"github.com/blocadmin/blocadmin/internal/receipt"
	"github.com/blocadmin/blocadmin/internal/shared"
	"github.com/blocadmin/blocadmin/internal/sheet"
	"github.com/blocadmin/blocadmin/internal/structure"
	"github.com/blocadmin/blocadmin/jobs"
	"github.com/blocadmin/blocadmin/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	publishLocker := shared.NewLocker(redisClient, cfg.PublishLockTTL)

	structureRepo := structure.NewRepository(dbpool)
	structureService := structure.NewService(structureRepo)
	structureHandler := structure.NewHandler(logger, structureService)

	sheetRepo := sheet.NewRepository(dbpool)
	receiptRepo := receipt.NewRepository(dbpool)

	// With a scheduled accrual configured the worker owns penalties;
	// otherwise they apply once, when the month is closed out.
	penalty := policy.NoPenalty
	if cfg.PenaltyAccrualCron == "" {
		penalty = policy.NewPercentagePolicy(cfg.PenaltyPercent, cfg.PenaltyGrace).Delta
	}
	approval := policy.OpenGate
	if cfg.RequireApproval {
		approval = func(ctx context.Context, associationID int64, month string) error {
			approved, err := sheetRepo.IsApproved(ctx, associationID, shared.Month(month))
			if err != nil {
				return err
			}
			if !approved {
				return sheet.ErrApprovalPending
			}
			return nil
		}
	}

	sheetService := sheet.NewService(sheetRepo, structureService, receiptRepo, publishLocker, auditLogger, logger, penalty, approval)
	sheetHandler := sheet.NewHandler(logger, sheetService)

	receiptService := receipt.NewService(receiptRepo, sheetRepo, auditLogger, logger, cfg.ReceiptMaxRetry)
	receiptHandler := receipt.NewHandler(logger, receiptService)

	reportClient := report.NewClient(cfg.GotenbergURL, cfg.ReportTimeout)
	reportHandler := report.NewHandler(reportClient, sheetService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		StructureHandler: structureHandler,
		SheetHandler:     sheetHandler,
		ReceiptHandler:   receiptHandler,
		ReportHandler:    reportHandler,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/psicare/psicare/internal/app"
	jobmetrics "github.com/psicare/psicare/internal/jobs"
	"github.com/psicare/psicare/internal/observability"
	"github.com/psicare/psicare/internal/platform/cache"
	"github.com/psicare/psicare/internal/platform/db"
	"github.com/psicare/psicare/internal/rolecache"
	"github.com/psicare/psicare/internal/roles"
	"github.com/psicare/psicare/internal/shared"
	"github.com/psicare/psicare/jobs"
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

	metrics := observability.NewMetrics()
	roleService := roles.NewService(roles.NewRepository(pool), shared.NopAuditor{}, logger, metrics, roles.ServiceConfig{
		FetchMode:   roles.FetchMode(cfg.RoleFetchMode),
		Concurrency: cfg.RoleFetchConcurrency,
	})
	roleService.SetSnapshotWriter(rolecache.NewStore(redisClient, logger))

	refreshJob := jobs.NewRoleSnapshotRefreshJob(roleService, logger, jobmetrics.NewMetrics(nil))

	refreshTask, err := jobs.NewRoleSnapshotRefreshTask("cron")
	if err != nil {
		logger.Error("build snapshot refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpt, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("asynq redis options", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRoleSnapshotRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SnapshotRefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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

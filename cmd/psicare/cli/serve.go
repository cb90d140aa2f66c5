package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/psicare/psicare/internal/app"
	"github.com/psicare/psicare/internal/assignment"
	"github.com/psicare/psicare/internal/audit"
	"github.com/psicare/psicare/internal/observability"
	"github.com/psicare/psicare/internal/permissions"
	"github.com/psicare/psicare/internal/platform/cache"
	"github.com/psicare/psicare/internal/platform/db"
	"github.com/psicare/psicare/internal/rbac"
	"github.com/psicare/psicare/internal/rolecache"
	"github.com/psicare/psicare/internal/roles"
	"github.com/psicare/psicare/internal/shared"
	"github.com/psicare/psicare/jobs"
)

const sessionCookie = "psicare_session"

// Serve wires the access-control services and runs the HTTP server until ctx
// is cancelled.
func Serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	permissionService := permissions.NewService(permissions.NewRepository(pool), auditLogger, logger, permissions.ServiceConfig{
		DeleteGuard: cfg.PermissionDeleteGuard,
	})
	roleService := roles.NewService(roles.NewRepository(pool), auditLogger, logger, metrics, roles.ServiceConfig{
		FetchMode:   roles.FetchMode(cfg.RoleFetchMode),
		Concurrency: cfg.RoleFetchConcurrency,
	})
	snapshots := rolecache.NewStore(redisClient, logger)
	roleService.SetSnapshotWriter(snapshots)
	snapshots.SetLoader(roleService.Load)
	permissionService.SetRoleReloader(roleService)

	if err := roleService.Reload(ctx); err != nil {
		logger.Warn("initial role reload", slog.Any("error", err))
	}
	if err := snapshots.Listen(ctx, func(version int64) {
		logger.Debug("role snapshot bumped", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("subscribe to snapshot bumps", slog.Any("error", err))
	}

	redisOpt, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		return err
	}
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	rbacMiddleware := rbac.Middleware{Grants: roleService, Logger: logger, Metrics: metrics}
	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     shared.NewSessionManager(redisClient, sessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction()),
		CSRFManager:        shared.NewCSRFManager(cfg.CSRFSecret),
		RBACMiddleware:     rbacMiddleware,
		PermissionsHandler: permissions.NewHandler(logger, permissionService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, roleService, rbacMiddleware, rolecache.NewHandler(snapshots, logger)),
		AssignmentHandler:  assignment.NewHandler(logger, roleService, assignment.NewDefaults(permissionService, snapshots), rbacMiddleware),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), rbacMiddleware),
		JobsHandler:        jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Readiness: map[string]app.Pinger{
			"postgres": pool,
			"redis":    redisPinger(redisClient),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func redisPinger(client *redis.Client) app.PingFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

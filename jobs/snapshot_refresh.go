package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/psicare/psicare/internal/jobs"
	"github.com/psicare/psicare/internal/roles"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RoleLoader reloads the registry and rewrites the snapshot.
type RoleLoader interface {
	Load(ctx context.Context) ([]roles.Role, error)
}

// RoleSnapshotRefreshJob resyncs the cached role snapshot.
type RoleSnapshotRefreshJob struct {
	Registry RoleLoader
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Timeout  time.Duration
}

// NewRoleSnapshotRefreshJob wires dependencies for the refresh handler.
func NewRoleSnapshotRefreshJob(registry RoleLoader, logger *slog.Logger, metrics *jobmetrics.Metrics) *RoleSnapshotRefreshJob {
	return &RoleSnapshotRefreshJob{Registry: registry, Logger: logger, Metrics: metrics, Timeout: 30 * time.Second}
}

// Handle processes TaskRoleSnapshotRefresh tasks.
func (j *RoleSnapshotRefreshJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Registry == nil {
		return errors.New("role snapshot refresh: handler not configured")
	}
	var payload RoleSnapshotRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("role snapshot refresh: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRoleSnapshotRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	start := time.Now()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	list, err := j.Registry.Load(ctx)
	if err != nil {
		logger.Error("refresh role snapshot", slog.Any("error", err))
		return err
	}
	j.metrics().SetSnapshotRoles(len(list))
	logger.Info("refreshed role snapshot", slog.Int("roles", len(list)), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *RoleSnapshotRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RoleSnapshotRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

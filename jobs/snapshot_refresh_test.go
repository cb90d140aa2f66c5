package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/psicare/psicare/internal/jobs"
	"github.com/psicare/psicare/internal/roles"
)

type loaderFunc func(context.Context) ([]roles.Role, error)

func (f loaderFunc) Load(ctx context.Context) ([]roles.Role, error) { return f(ctx) }

func newTestJob(t *testing.T, loader RoleLoader) (*RoleSnapshotRefreshJob, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRoleSnapshotRefreshJob(loader, logger, jobmetrics.NewMetrics(reg)), reg
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestNewRoleSnapshotRefreshTaskDefaultsReason(t *testing.T) {
	task, err := NewRoleSnapshotRefreshTask("")
	require.NoError(t, err)
	assert.Equal(t, TaskRoleSnapshotRefresh, task.Type())

	var payload RoleSnapshotRefreshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "manual", payload.Reason)
}

func TestRoleSnapshotRefreshRecordsRoleCount(t *testing.T) {
	calls := 0
	job, reg := newTestJob(t, loaderFunc(func(context.Context) ([]roles.Role, error) {
		calls++
		return []roles.Role{{ID: 1, Name: "ADMIN"}, {ID: 2, Name: "PSICOLOGO"}}, nil
	}))
	task, err := NewRoleSnapshotRefreshTask("cron")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2.0, gaugeValue(t, reg, "psicare_role_snapshot_roles"))
}

func TestRoleSnapshotRefreshPropagatesLoaderError(t *testing.T) {
	boom := errors.New("registry down")
	job, _ := newTestJob(t, loaderFunc(func(context.Context) ([]roles.Role, error) {
		return nil, boom
	}))
	task, err := NewRoleSnapshotRefreshTask("manual")
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestRoleSnapshotRefreshSkipsRetryOnBadPayload(t *testing.T) {
	job, _ := newTestJob(t, loaderFunc(func(context.Context) ([]roles.Role, error) {
		t.Fatal("loader must not run")
		return nil, nil
	}))
	err := job.Handle(context.Background(), asynq.NewTask(TaskRoleSnapshotRefresh, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRoleSnapshotRefreshRequiresRegistry(t *testing.T) {
	var job *RoleSnapshotRefreshJob
	task, err := NewRoleSnapshotRefreshTask("manual")
	require.NoError(t, err)
	assert.Error(t, job.Handle(context.Background(), task))
}

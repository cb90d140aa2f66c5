package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleSnapshotRefresh rebuilds the cached role snapshot from the registry.
	TaskRoleSnapshotRefresh = "roles:snapshot:refresh"
)

// RoleSnapshotRefreshPayload describes why a refresh was requested.
type RoleSnapshotRefreshPayload struct {
	Reason string `json:"reason"`
}

// NewRoleSnapshotRefreshTask constructs an Asynq task.
func NewRoleSnapshotRefreshTask(reason string) (*asynq.Task, error) {
	if reason == "" {
		reason = "manual"
	}
	data, err := json.Marshal(RoleSnapshotRefreshPayload{Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode snapshot refresh payload: %w", err)
	}
	return asynq.NewTask(TaskRoleSnapshotRefresh, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

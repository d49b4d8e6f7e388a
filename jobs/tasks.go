package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/glueful/accessd/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCleanupExpired removes expired grants and role assignments.
	TaskCleanupExpired = "rbac:cleanup_expired"
	// TaskWarmUserCache precomputes the permission map for a user.
	TaskWarmUserCache = "rbac:warm_user_cache"
)

// WarmUserCachePayload identifies the user whose cache should be warmed.
type WarmUserCachePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// NewCleanupExpiredTask constructs the periodic cleanup task.
func NewCleanupExpiredTask() *asynq.Task {
	return asynq.NewTask(TaskCleanupExpired, nil)
}

// NewWarmUserCacheTask constructs a cache warmup task for one user.
func NewWarmUserCacheTask(payload WarmUserCachePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarmUserCache, data), nil
}

// TaskDeps carries the dependencies shared by task handlers.
type TaskDeps struct {
	Assignments rbac.AssignmentRepository
	Provider    *rbac.Provider
	Logger      *slog.Logger
	Metrics     *Metrics
}

func (d TaskDeps) track(task string) *Tracker {
	if d.Metrics == nil {
		return nil
	}
	return d.Metrics.Track(task)
}

func (d TaskDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// HandleCleanupExpired deletes expired grants and assignments, then drops the
// cached state of every affected user so stale allows cannot outlive a grant
// by more than the job interval.
func (d TaskDeps) HandleCleanupExpired(ctx context.Context, t *asynq.Task) error {
	tracker := d.track(TaskCleanupExpired)
	affected, err := d.Assignments.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return tracker.End(err)
	}
	for _, userID := range affected {
		d.Provider.InvalidateUserCache(ctx, userID)
	}
	d.logger().Info("expired grants cleaned",
		slog.Int("affected_users", len(affected)))
	return tracker.End(nil)
}

// HandleWarmUserCache populates the permission caches for one user.
func (d TaskDeps) HandleWarmUserCache(ctx context.Context, t *asynq.Task) error {
	tracker := d.track(TaskWarmUserCache)
	var payload WarmUserCachePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	if _, err := d.Provider.GetUserPermissions(ctx, payload.UserID); err != nil {
		return tracker.End(err)
	}
	if _, err := d.Provider.GetUserRoles(ctx, payload.UserID, nil); err != nil {
		return tracker.End(err)
	}
	return tracker.End(nil)
}

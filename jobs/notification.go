package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitebill/sitebill/internal/jobs"
	"github.com/sitebill/sitebill/internal/notify"
)

// NotificationStore persists delivered notifications.
type NotificationStore interface {
	Save(ctx context.Context, n notify.Notification) (int64, error)
}

// NotificationJob stores queued notifications.
type NotificationJob struct {
	Store   NotificationStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskNotificationDeliver tasks.
func (j *NotificationJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("notification job: store not configured")
	}
	var n notify.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskNotificationDeliver)
	defer func() { err = tracker.End(err) }()

	id, err := j.Store.Save(ctx, n)
	if err != nil {
		return err
	}
	logger(j.Logger).Debug("notification stored",
		slog.Int64("notification_id", id),
		slog.String("severity", string(n.Severity)),
	)
	return nil
}

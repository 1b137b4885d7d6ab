package jobs

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sitebill/sitebill/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries user facing notifications.
	QueueCritical = "critical"

	// TaskNotificationDeliver persists a notification for its recipient.
	TaskNotificationDeliver = "notification:deliver"
	// TaskInvoiceArchive renders an invoice and stores the PDF.
	TaskInvoiceArchive = "invoice:archive"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// InvoiceArchivePayload identifies the invoice to archive.
type InvoiceArchivePayload struct {
	InvoiceID int64 `json:"invoice_id"`
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewNotificationTask constructs a delivery task for n.
func NewNotificationTask(n notify.Notification) (*asynq.Task, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, body, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// NewInvoiceArchiveTask constructs an archive task. The task id dedupes
// repeated enqueues for the same invoice while one is still pending.
func NewInvoiceArchiveTask(invoiceID int64) (*asynq.Task, error) {
	body, err := json.Marshal(InvoiceArchivePayload{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceArchive, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID("invoice-archive-"+strconv.FormatInt(invoiceID, 10)),
		asynq.MaxRetry(10),
		asynq.Timeout(2*time.Minute),
	), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

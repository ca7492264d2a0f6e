package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGenerateInvoices runs the monthly invoice procedure.
	TaskGenerateInvoices = "billing:generate_invoices"
	// TaskCleanupIdempotency prunes expired idempotency keys.
	TaskCleanupIdempotency = "maintenance:cleanup_idempotency"
)

// GenerateInvoicesPayload records who asked for a generation run.
type GenerateInvoicesPayload struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewGenerateInvoicesTask constructs an Asynq task.
func NewGenerateInvoicesTask(requestedBy string, at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(GenerateInvoicesPayload{RequestedBy: requestedBy, RequestedAt: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerateInvoices, data), nil
}

// CleanupIdempotencyPayload sets the retention of idempotency keys.
type CleanupIdempotencyPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewCleanupIdempotencyTask constructs an Asynq task.
func NewCleanupIdempotencyTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupIdempotencyPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupIdempotency, data), nil
}

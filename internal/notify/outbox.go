package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/selinggonet/selinggonet/internal/billing"
)

// Task types of the notification outbox.
const (
	TaskCustomerPayment = "notify:customer_payment"
	TaskAdminPayment    = "notify:admin_payment"
	TaskBillReminder    = "notify:bill_reminder"

	// QueueNotifications is the asynq queue the outbox writes to.
	QueueNotifications = "notifications"

	// reminderWindow is how long a queued reminder blocks another one for the same invoice.
	reminderWindow = time.Hour
)

// Enqueuer is the subset of *asynq.Client used by the outbox.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Outbox persists payment notifications as asynq tasks. The customer and
// admin tasks are independent: one failing never blocks the other.
type Outbox struct {
	enqueuer Enqueuer
	maxRetry int
	timeout  time.Duration
}

// NewOutbox constructs an Outbox.
func NewOutbox(enqueuer Enqueuer, maxRetry int, timeout time.Duration) *Outbox {
	if maxRetry < 0 {
		maxRetry = 0
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Outbox{enqueuer: enqueuer, maxRetry: maxRetry, timeout: timeout}
}

// NotifyCustomer queues the customer confirmation.
func (o *Outbox) NotifyCustomer(ctx context.Context, notice billing.PaymentNotice) error {
	return o.enqueue(ctx, TaskCustomerPayment, notice)
}

// NotifyAdmin queues the admin alert.
func (o *Outbox) NotifyAdmin(ctx context.Context, notice billing.PaymentNotice) error {
	return o.enqueue(ctx, TaskAdminPayment, notice)
}

// NotifyReminder queues an unpaid-bill reminder. A second reminder for the
// same invoice within the reminder window is refused.
func (o *Outbox) NotifyReminder(ctx context.Context, reminder billing.BillReminder) error {
	data, err := json.Marshal(billing.BillReminder{InvoiceID: reminder.InvoiceID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskBillReminder, data)
	_, err = o.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(o.maxRetry),
		asynq.Timeout(o.timeout),
		asynq.Unique(reminderWindow),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return billing.ErrReminderPending
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskBillReminder, err)
	}
	return nil
}

// DecodeReminderTask reads the payload of a reminder task.
func DecodeReminderTask(t *asynq.Task) (billing.BillReminder, error) {
	var reminder billing.BillReminder
	if err := json.Unmarshal(t.Payload(), &reminder); err != nil {
		return billing.BillReminder{}, err
	}
	return reminder, nil
}

func (o *Outbox) enqueue(ctx context.Context, taskType string, notice billing.PaymentNotice) error {
	task, err := NewPaymentTask(taskType, notice)
	if err != nil {
		return err
	}
	_, err = o.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(o.maxRetry),
		asynq.Timeout(o.timeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

// NewPaymentTask builds a notification task carrying notice.
func NewPaymentTask(taskType string, notice billing.PaymentNotice) (*asynq.Task, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// DecodePaymentTask reads the notice of a notification task.
func DecodePaymentTask(t *asynq.Task) (billing.PaymentNotice, error) {
	var notice billing.PaymentNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return billing.PaymentNotice{}, err
	}
	return notice, nil
}

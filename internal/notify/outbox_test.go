package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinggonet/selinggonet/internal/billing"
	"github.com/selinggonet/selinggonet/internal/notify"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	fail  map[string]error
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if err := r.fail[task.Type()]; err != nil {
		return nil, err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestOutboxQueuesIndependentTasks(t *testing.T) {
	enq := &recordingEnqueuer{fail: map[string]error{notify.TaskCustomerPayment: errors.New("redis down")}}
	outbox := notify.NewOutbox(enq, 5, 30*time.Second)
	notice := billing.PaymentNotice{InvoiceID: "inv-1", Amount: 50000, Method: billing.MethodQRIS, NewStatus: billing.StatusPartiallyPaid, Remaining: 100000}

	errCustomer := outbox.NotifyCustomer(context.Background(), notice)
	errAdmin := outbox.NotifyAdmin(context.Background(), notice)

	require.Error(t, errCustomer)
	require.NoError(t, errAdmin)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, notify.TaskAdminPayment, enq.tasks[0].Type())

	decoded, err := notify.DecodePaymentTask(enq.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, notice, decoded)
}

func TestOutboxReminderIsUniquePerInvoice(t *testing.T) {
	enq := &recordingEnqueuer{}
	outbox := notify.NewOutbox(enq, 3, time.Minute)

	err := outbox.NotifyReminder(context.Background(), billing.BillReminder{InvoiceID: "inv-1", AdminName: "Rina"})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, notify.TaskBillReminder, enq.tasks[0].Type())
	decoded, err := notify.DecodeReminderTask(enq.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, billing.BillReminder{InvoiceID: "inv-1"}, decoded)

	enq.fail = map[string]error{notify.TaskBillReminder: asynq.ErrDuplicateTask}
	err = outbox.NotifyReminder(context.Background(), billing.BillReminder{InvoiceID: "inv-1"})
	require.ErrorIs(t, err, billing.ErrReminderPending)
}

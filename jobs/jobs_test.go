package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selinggonet/selinggonet/internal/billing"
	jobmetrics "github.com/selinggonet/selinggonet/internal/jobs"
	"github.com/selinggonet/selinggonet/internal/notify"
	"github.com/selinggonet/selinggonet/internal/settings"
	_ "github.com/selinggonet/selinggonet/testing"
)

type stubInvoices struct {
	inv *billing.Invoice
	err error
}

func (s *stubInvoices) Invoice(ctx context.Context, id string) (*billing.Invoice, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.inv, nil
}

type stubSettings struct {
	admin string
	loads int
}

func (s *stubSettings) Load(ctx context.Context) settings.Source {
	s.loads++
	return settings.SourceDatabase
}

func (s *stubSettings) AppName() string             { return "NetKu" }
func (s *stubSettings) WhatsAppNumber() string      { return "6281111" }
func (s *stubSettings) AdminWhatsAppNumber() string { return s.admin }

type sentMessage struct {
	target  string
	message string
}

type stubSender struct {
	sent []sentMessage
	err  error
}

func (s *stubSender) Send(ctx context.Context, target, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{target: target, message: message})
	return nil
}

type stubFeed struct {
	rows []notify.AdminNotification
	err  error
}

func (s *stubFeed) Insert(ctx context.Context, n notify.AdminNotification) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, n)
	return nil
}

func sampleInvoice() *billing.Invoice {
	return &billing.Invoice{
		ID:            "inv-1",
		InvoicePeriod: "Agustus 2025",
		Amount:        150000,
		TotalDue:      150000,
		Status:        billing.StatusPaid,
		Customer:      billing.Customer{FullName: "Budi", IDPL: "SG-001", WhatsAppNumber: "081234567890"},
	}
}

func paymentTask(t *testing.T, taskType string) *asynq.Task {
	t.Helper()
	task, err := notify.NewPaymentTask(taskType, billing.PaymentNotice{
		InvoiceID: "inv-1",
		Amount:    150000,
		Method:    billing.MethodCash,
		NewStatus: billing.StatusPaid,
		AdminName: "Rina",
		PaidAt:    time.Date(2025, 8, 5, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return task
}

func newNotificationJob(invoices *stubInvoices, cfg *stubSettings, sender *stubSender, feed *stubFeed) *PaymentNotificationJob {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPaymentNotificationJob(invoices, cfg, sender, feed, nil, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestHandleCustomerSendsConfirmation(t *testing.T) {
	sender := &stubSender{}
	cfg := &stubSettings{admin: "628999"}
	job := newNotificationJob(&stubInvoices{inv: sampleInvoice()}, cfg, sender, &stubFeed{})

	err := job.HandleCustomer(context.Background(), paymentTask(t, notify.TaskCustomerPayment))

	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "081234567890", sender.sent[0].target)
	assert.Contains(t, sender.sent[0].message, "LUNAS")
	assert.Contains(t, sender.sent[0].message, "NetKu")
	assert.Equal(t, 1, cfg.loads)
}

func TestHandleCustomerSkipsRetryWithoutNumber(t *testing.T) {
	inv := sampleInvoice()
	inv.Customer.WhatsAppNumber = ""
	sender := &stubSender{}
	job := newNotificationJob(&stubInvoices{inv: inv}, &stubSettings{}, sender, &stubFeed{})

	err := job.HandleCustomer(context.Background(), paymentTask(t, notify.TaskCustomerPayment))

	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, sender.sent)
}

func TestHandleCustomerRetriesOnDeliveryFailure(t *testing.T) {
	sender := &stubSender{err: notify.ErrDelivery}
	job := newNotificationJob(&stubInvoices{inv: sampleInvoice()}, &stubSettings{}, sender, &stubFeed{})

	err := job.HandleCustomer(context.Background(), paymentTask(t, notify.TaskCustomerPayment))

	require.ErrorIs(t, err, notify.ErrDelivery)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleCustomerDropsMissingInvoice(t *testing.T) {
	job := newNotificationJob(&stubInvoices{err: billing.ErrNotFound}, &stubSettings{}, &stubSender{}, &stubFeed{})

	err := job.HandleCustomer(context.Background(), paymentTask(t, notify.TaskCustomerPayment))

	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleCustomerRejectsBadPayload(t *testing.T) {
	job := newNotificationJob(&stubInvoices{inv: sampleInvoice()}, &stubSettings{}, &stubSender{}, &stubFeed{})

	err := job.HandleCustomer(context.Background(), asynq.NewTask(notify.TaskCustomerPayment, []byte("{")))

	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleAdminRecordsFeedAndSends(t *testing.T) {
	sender := &stubSender{}
	feed := &stubFeed{}
	job := newNotificationJob(&stubInvoices{inv: sampleInvoice()}, &stubSettings{admin: "628999"}, sender, feed)

	err := job.HandleAdmin(context.Background(), paymentTask(t, notify.TaskAdminPayment))

	require.NoError(t, err)
	require.Len(t, feed.rows, 1)
	assert.Equal(t, "inv-1", feed.rows[0].InvoiceID)
	assert.Equal(t, "Tagihan lunas: Budi", feed.rows[0].Title)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "628999", sender.sent[0].target)
	assert.Contains(t, sender.sent[0].message, "Rina")
}

func TestHandleAdminFeedFailureRetries(t *testing.T) {
	sender := &stubSender{}
	job := newNotificationJob(&stubInvoices{inv: sampleInvoice()}, &stubSettings{admin: "628999"}, sender, &stubFeed{err: errors.New("db down")})

	err := job.HandleAdmin(context.Background(), paymentTask(t, notify.TaskAdminPayment))

	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, sender.sent)
}

type stubGenerator struct {
	res   billing.GenerationResult
	err   error
	calls int
}

func (s *stubGenerator) GenerateMonthlyInvoices(ctx context.Context) (billing.GenerationResult, error) {
	s.calls++
	return s.res, s.err
}

func TestInvoiceGenerationSucceeds(t *testing.T) {
	gen := &stubGenerator{res: billing.GenerationResult{Status: "success", Message: "12 tagihan dibuat"}}
	job := NewInvoiceGenerationJob(gen, slog.New(slog.NewTextHandler(io.Discard, nil)), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewGenerateInvoicesTask("selinggoctl", time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, gen.calls)
}

func TestInvoiceGenerationRejectedSkipsRetry(t *testing.T) {
	gen := &stubGenerator{err: &billing.RejectedError{Cause: billing.ErrGenerationFailed, Message: "sudah dibuat"}}
	job := NewInvoiceGenerationJob(gen, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskGenerateInvoices, nil))

	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, billing.ErrGenerationFailed)
}

func TestInvoiceGenerationStoreErrorRetries(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection reset")}
	job := NewInvoiceGenerationJob(gen, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskGenerateInvoices, nil))

	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestInvoiceGenerationCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	gen := &stubGenerator{err: errors.New("connection reset")}
	job := NewInvoiceGenerationJob(gen, nil, jobmetrics.NewMetrics(reg))

	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskGenerateInvoices, nil)))
	gen.err = &billing.RejectedError{Cause: billing.ErrGenerationFailed, Message: "sudah dibuat"}
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskGenerateInvoices, nil)))
	gen.err = nil
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskGenerateInvoices, nil)))

	assert.Equal(t, 2.0, counterSum(t, reg, "selinggonet_jobs_failures_total"))
	assert.Equal(t, 3.0, counterSum(t, reg, "selinggonet_jobs_total"))
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func reminderTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(billing.BillReminder{InvoiceID: "inv-1"})
	require.NoError(t, err)
	return asynq.NewTask(notify.TaskBillReminder, data)
}

func TestHandleReminderSendsToCustomer(t *testing.T) {
	inv := sampleInvoice()
	inv.Status = billing.StatusUnpaid
	sender := &stubSender{}
	cfg := &stubSettings{}
	job := newNotificationJob(&stubInvoices{inv: inv}, cfg, sender, &stubFeed{})

	require.NoError(t, job.HandleReminder(context.Background(), reminderTask(t)))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "081234567890", sender.sent[0].target)
	assert.Contains(t, sender.sent[0].message, "belum lunas")
	assert.Contains(t, sender.sent[0].message, "WhatsApp 6281111")
	assert.Equal(t, 1, cfg.loads)
}

func TestHandleReminderSkipsPaidInvoice(t *testing.T) {
	sender := &stubSender{}
	job := newNotificationJob(&stubInvoices{inv: sampleInvoice()}, &stubSettings{}, sender, &stubFeed{})

	require.NoError(t, job.HandleReminder(context.Background(), reminderTask(t)))
	assert.Empty(t, sender.sent)
}

func TestHandleReminderWithoutNumberSkipsRetry(t *testing.T) {
	inv := sampleInvoice()
	inv.Status = billing.StatusPartiallyPaid
	inv.Customer.WhatsAppNumber = ""
	job := newNotificationJob(&stubInvoices{inv: inv}, &stubSettings{}, &stubSender{}, &stubFeed{})

	err := job.HandleReminder(context.Background(), reminderTask(t))

	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, notify.ErrNoTarget)
}

func TestHandleReminderRetriesOnDeliveryFailure(t *testing.T) {
	inv := sampleInvoice()
	inv.Status = billing.StatusUnpaid
	job := newNotificationJob(&stubInvoices{inv: inv}, &stubSettings{}, &stubSender{err: errors.New("gateway 502")}, &stubFeed{})

	err := job.HandleReminder(context.Background(), reminderTask(t))

	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(&stubInspector{infos: map[string]*asynq.QueueInfo{
		notify.QueueNotifications: {Queue: notify.QueueNotifications, Pending: 2, Retry: 1},
	}}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `"queue":"notifications","pending":2`), body)
	assert.Contains(t, body, `"queue":"default","pending":0`)
}

func TestHealthUnavailable(t *testing.T) {
	h := NewHandler(&stubInspector{err: errors.New("redis down")}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type stubCleaner struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return s.removed, s.err
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	store := &stubCleaner{removed: 4}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewCleanupIdempotencyTask(72 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 72*time.Hour, store.olderThan)
}

func TestIdempotencyCleanupClampsShortRetention(t *testing.T) {
	store := &stubCleaner{}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewCleanupIdempotencyTask(time.Minute)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 24*time.Hour, store.olderThan)
}

func TestIdempotencyCleanupPropagatesStoreError(t *testing.T) {
	store := &stubCleaner{err: errors.New("db down")}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskCleanupIdempotency, nil))

	require.Error(t, err)
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/selinggonet/selinggonet/internal/billing"
	jobmetrics "github.com/selinggonet/selinggonet/internal/jobs"
	"github.com/selinggonet/selinggonet/internal/notify"
	"github.com/selinggonet/selinggonet/internal/settings"
	"github.com/selinggonet/selinggonet/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const adminFeedModule = "notify.admin_feed"

// InvoiceSource loads an invoice with its customer profile.
type InvoiceSource interface {
	Invoice(ctx context.Context, id string) (*billing.Invoice, error)
}

// SettingsSource supplies branding and the admin number.
type SettingsSource interface {
	Load(ctx context.Context) settings.Source
	AppName() string
	WhatsAppNumber() string
	AdminWhatsAppNumber() string
}

// AdminFeed stores the dashboard notification row.
type AdminFeed interface {
	Insert(ctx context.Context, n notify.AdminNotification) error
}

// FeedGuard keeps the dashboard row from being written twice when a task retries.
type FeedGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// PaymentNotificationJob delivers the outbox tasks queued by a committed payment.
type PaymentNotificationJob struct {
	Invoices InvoiceSource
	Settings SettingsSource
	Sender   notify.Sender
	Feed     AdminFeed
	Guard    FeedGuard
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Location *time.Location
	clock    func() time.Time
}

// NewPaymentNotificationJob wires dependencies for both notification handlers.
func NewPaymentNotificationJob(invoices InvoiceSource, settingsSrc SettingsSource, sender notify.Sender, feed AdminFeed, guard FeedGuard, logger *slog.Logger, metrics *jobmetrics.Metrics) *PaymentNotificationJob {
	return &PaymentNotificationJob{
		Invoices: invoices,
		Settings: settingsSrc,
		Sender:   sender,
		Feed:     feed,
		Guard:    guard,
		Logger:   logger,
		Metrics:  metrics,
		clock:    time.Now,
	}
}

// HandleCustomer sends the payment confirmation to the customer.
func (j *PaymentNotificationJob) HandleCustomer(ctx context.Context, t *asynq.Task) (resultErr error) {
	notice, inv, logger, err := j.prepare(ctx, t, notify.TaskCustomerPayment)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(notify.TaskCustomerPayment)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if inv.Customer.WhatsAppNumber == "" {
		j.metrics().AddNotification("customer", "skipped")
		logger.Info("customer has no whatsapp number")
		return fmt.Errorf("%w: %w", notify.ErrNoTarget, asynq.SkipRetry)
	}
	message := notify.CustomerConfirmation(j.Settings.AppName(), *inv, notice, j.paidAt(notice))
	if err := j.Sender.Send(ctx, inv.Customer.WhatsAppNumber, message); err != nil {
		return j.deliveryFailed(logger, "customer", err)
	}
	j.metrics().AddNotification("customer", "sent")
	logger.Info("customer notified")
	return nil
}

// HandleAdmin records the dashboard notification and alerts the admin number.
func (j *PaymentNotificationJob) HandleAdmin(ctx context.Context, t *asynq.Task) (resultErr error) {
	notice, inv, logger, err := j.prepare(ctx, t, notify.TaskAdminPayment)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(notify.TaskAdminPayment)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	at := j.paidAt(notice)
	message := notify.AdminAlert(*inv, notice, at)
	if err := j.recordFeed(ctx, t, notify.AdminNotification{
		Title:     notify.AdminTitle(*inv, notice),
		Message:   message,
		InvoiceID: inv.ID,
		CreatedAt: at,
	}); err != nil {
		logger.Error("insert admin notification", slog.Any("error", err))
		return err
	}

	target := j.Settings.AdminWhatsAppNumber()
	if target == "" {
		j.metrics().AddNotification("admin", "skipped")
		return fmt.Errorf("%w: %w", notify.ErrNoTarget, asynq.SkipRetry)
	}
	if err := j.Sender.Send(ctx, target, message); err != nil {
		return j.deliveryFailed(logger, "admin", err)
	}
	j.metrics().AddNotification("admin", "sent")
	logger.Info("admin notified")
	return nil
}

// HandleReminder sends an unpaid-bill reminder queued from the board.
func (j *PaymentNotificationJob) HandleReminder(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Invoices == nil || j.Settings == nil || j.Sender == nil {
		return errors.New("bill reminder: handler not configured")
	}
	reminder, err := notify.DecodeReminderTask(t)
	if err != nil || reminder.InvoiceID == "" {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(notify.TaskBillReminder)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger(notify.TaskBillReminder).With(slog.String("invoice_id", reminder.InvoiceID))
	inv, err := j.Invoices.Invoice(ctx, reminder.InvoiceID)
	if err != nil {
		logger.Warn("load invoice", slog.Any("error", err))
		if errors.Is(err, billing.ErrNotFound) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if inv.Status == billing.StatusPaid {
		j.metrics().AddNotification("reminder", "skipped")
		logger.Info("invoice paid before reminder was sent")
		return nil
	}
	if inv.Customer.WhatsAppNumber == "" {
		j.metrics().AddNotification("reminder", "skipped")
		return fmt.Errorf("%w: %w", notify.ErrNoTarget, asynq.SkipRetry)
	}
	j.Settings.Load(ctx)
	message := notify.BillReminder(j.Settings.AppName(), j.Settings.WhatsAppNumber(), *inv, j.Location)
	if err := j.Sender.Send(ctx, inv.Customer.WhatsAppNumber, message); err != nil {
		return j.deliveryFailed(logger, "reminder", err)
	}
	j.metrics().AddNotification("reminder", "sent")
	logger.Info("bill reminder sent")
	return nil
}

func (j *PaymentNotificationJob) prepare(ctx context.Context, t *asynq.Task, taskType string) (billing.PaymentNotice, *billing.Invoice, *slog.Logger, error) {
	if j == nil || j.Invoices == nil || j.Settings == nil || j.Sender == nil {
		return billing.PaymentNotice{}, nil, nil, errors.New("payment notification: handler not configured")
	}
	notice, err := notify.DecodePaymentTask(t)
	if err != nil || notice.InvoiceID == "" {
		return billing.PaymentNotice{}, nil, nil, asynq.SkipRetry
	}
	logger := j.logger(taskType).With(slog.String("invoice_id", notice.InvoiceID))
	inv, err := j.Invoices.Invoice(ctx, notice.InvoiceID)
	if err != nil {
		logger.Warn("load invoice", slog.Any("error", err))
		if errors.Is(err, billing.ErrNotFound) {
			return billing.PaymentNotice{}, nil, nil, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return billing.PaymentNotice{}, nil, nil, err
	}
	j.Settings.Load(ctx)
	return notice, inv, logger, nil
}

// recordFeed writes the dashboard row at most once per task id.
func (j *PaymentNotificationJob) recordFeed(ctx context.Context, t *asynq.Task, n notify.AdminNotification) error {
	if j.Feed == nil {
		return nil
	}
	key, _ := asynq.GetTaskID(ctx)
	if key == "" || j.Guard == nil {
		return j.Feed.Insert(ctx, n)
	}
	if err := j.Guard.CheckAndInsert(ctx, key, adminFeedModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil
		}
		return err
	}
	if err := j.Feed.Insert(ctx, n); err != nil {
		if relErr := j.Guard.Release(context.WithoutCancel(ctx), key, adminFeedModule); relErr != nil {
			j.logger(t.Type()).Warn("release admin feed key", slog.Any("error", relErr))
		}
		return err
	}
	return nil
}

func (j *PaymentNotificationJob) deliveryFailed(logger *slog.Logger, kind string, err error) error {
	if errors.Is(err, notify.ErrNoTarget) {
		j.metrics().AddNotification(kind, "skipped")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	j.metrics().AddNotification(kind, "failed")
	logger.Warn("whatsapp delivery", slog.Any("error", err))
	return err
}

func (j *PaymentNotificationJob) paidAt(notice billing.PaymentNotice) time.Time {
	if !notice.PaidAt.IsZero() {
		return notice.PaidAt
	}
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

func (j *PaymentNotificationJob) logger(taskType string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", taskType))
	}
	return slog.Default().With(slog.String("job", taskType))
}

func (j *PaymentNotificationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

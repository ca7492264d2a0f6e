package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/selinggonet/selinggonet/internal/billing"
	jobmetrics "github.com/selinggonet/selinggonet/internal/jobs"
)

// InvoiceGenerator runs the monthly invoice procedure.
type InvoiceGenerator interface {
	GenerateMonthlyInvoices(ctx context.Context) (billing.GenerationResult, error)
}

// InvoiceGenerationJob creates the invoices of the new billing period.
type InvoiceGenerationJob struct {
	Billing InvoiceGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewInvoiceGenerationJob wires dependencies for the generation handler.
func NewInvoiceGenerationJob(generator InvoiceGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceGenerationJob {
	return &InvoiceGenerationJob{Billing: generator, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle processes TaskGenerateInvoices tasks.
func (j *InvoiceGenerationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Billing == nil {
		return errors.New("invoice generation: handler not configured")
	}
	var payload GenerateInvoicesPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.RequestedBy == "" {
		payload.RequestedBy = "scheduler"
	}

	tracker := j.metrics().Track(TaskGenerateInvoices)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	logger := j.logger().With(slog.String("period", billing.PeriodLabel(now)), slog.String("requested_by", payload.RequestedBy))
	logger.Info("starting monthly invoice generation")

	res, err := j.Billing.GenerateMonthlyInvoices(ctx)
	if err != nil {
		var rejected *billing.RejectedError
		if errors.As(err, &rejected) {
			// The procedure answered; running it again would give the same answer.
			logger.Warn("invoice generation rejected", slog.String("message", rejected.Message))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		logger.Error("invoice generation", slog.Any("error", err))
		return err
	}
	j.metrics().SetInvoicesGenerated(now)
	logger.Info("completed monthly invoice generation", slog.String("message", res.Message), slog.Duration("duration", time.Since(now)))
	return nil
}

func (j *InvoiceGenerationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGenerateInvoices))
	}
	return slog.Default().With(slog.String("job", TaskGenerateInvoices))
}

func (j *InvoiceGenerationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InvoiceGenerationJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/selinggonet/selinggonet/internal/app"
	"github.com/selinggonet/selinggonet/internal/billing"
	jobmetrics "github.com/selinggonet/selinggonet/internal/jobs"
	"github.com/selinggonet/selinggonet/internal/notify"
	"github.com/selinggonet/selinggonet/internal/platform/cache"
	"github.com/selinggonet/selinggonet/internal/platform/db"
	"github.com/selinggonet/selinggonet/internal/settings"
	"github.com/selinggonet/selinggonet/internal/shared"
	"github.com/selinggonet/selinggonet/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	settingsService := settings.NewService(settings.NewRepository(pool), settings.NewMirror(redisClient), logger)
	settingsService.Load(ctx)

	billingService := billing.NewService(billing.NewRepository(pool), nil, nil, logger, billing.ServiceConfig{
		PaidPageSize: cfg.PaidPageSize,
	})
	sender := notify.NewClient(cfg.WhatsAppFunctionURL, cfg.WhatsAppFunctionKey, cfg.WhatsAppTimeout)

	notificationJob := jobs.NewPaymentNotificationJob(billingService, settingsService, sender,
		notify.NewAdminRepository(pool), idempotencyStore, logger, metrics)
	notificationJob.Location = cfg.Location()
	generationJob := jobs.NewInvoiceGenerationJob(billingService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	generateTask, err := jobs.NewGenerateInvoicesTask("scheduler", time.Now())
	if err != nil {
		logger.Error("build generation task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewCleanupIdempotencyTask(cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskCustomerPayment, Handler: notificationJob.HandleCustomer},
			{Type: notify.TaskAdminPayment, Handler: notificationJob.HandleAdmin},
			{Type: notify.TaskBillReminder, Handler: notificationJob.HandleReminder},
			{Type: jobs.TaskGenerateInvoices, Handler: generationJob.Handle},
			{Type: jobs.TaskCleanupIdempotency, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.InvoiceCron, Task: generateTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

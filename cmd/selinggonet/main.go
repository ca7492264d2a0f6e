package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/selinggonet/selinggonet/internal/app"
	"github.com/selinggonet/selinggonet/internal/billing"
	"github.com/selinggonet/selinggonet/internal/notify"
	"github.com/selinggonet/selinggonet/internal/observability"
	"github.com/selinggonet/selinggonet/internal/platform/cache"
	"github.com/selinggonet/selinggonet/internal/platform/db"
	"github.com/selinggonet/selinggonet/internal/settings"
	"github.com/selinggonet/selinggonet/internal/shared"
	"github.com/selinggonet/selinggonet/internal/view"
	"github.com/selinggonet/selinggonet/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "web")

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	settingsService := settings.NewService(settings.NewRepository(dbpool), settings.NewMirror(redisClient), logger)
	source := settingsService.Load(ctx)
	logger.Info("settings loaded", slog.String("source", string(source)))
	if err := settings.RegisterMetrics(metrics.Registerer(), settingsService); err != nil {
		logger.Error("register settings metrics", slog.Any("error", err))
		os.Exit(1)
	}

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}
	templates.WithChrome(settingsService).WithLocation(cfg.Location())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	outbox := notify.NewOutbox(jobClient, cfg.NotifyMaxRetry, cfg.WhatsAppTimeout)

	billingService := billing.NewService(billing.NewRepository(dbpool), outbox, idempotencyStore, logger, billing.ServiceConfig{
		PaidPageSize: cfg.PaidPageSize,
	})
	billingHandler := billing.NewHandler(logger, billingService, settingsService, templates, csrfManager, cfg.AdminName).
		WithRecorder(metrics).
		WithLocation(cfg.Location())
	settingsHandler := settings.NewHandler(logger, settingsService, templates, csrfManager)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		BillingHandler:  billingHandler,
		SettingsHandler: settingsHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/dre-ingest/internal/app"
	"github.com/odyssey-erp/dre-ingest/internal/execution"
	executionhttp "github.com/odyssey-erp/dre-ingest/internal/execution/http"
	jobmetrics "github.com/odyssey-erp/dre-ingest/internal/jobs"
	"github.com/odyssey-erp/dre-ingest/internal/observability"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
	"github.com/odyssey-erp/dre-ingest/internal/platform/cache"
	"github.com/odyssey-erp/dre-ingest/internal/platform/db"
	"github.com/odyssey-erp/dre-ingest/jobs"
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

	logger := app.NewLogger(cfg)

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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts, cfg.IngestTaskRetries)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ingestMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	deps := app.PipelineDeps{
		Pool:    pool,
		Redis:   redisClient,
		Logger:  logger,
		Metrics: ingestMetrics,
	}
	if notifier := jobs.NewMailNotifier(queue, cfg.NotifyEmailTo); notifier != nil {
		deps.Notifier = notifier
	}
	orchestrator, err := app.NewOrchestrator(ctx, cfg, deps)
	if err != nil {
		logger.Error("init pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	ingestJob := &jobs.IngestJob{Runner: orchestrator, Logger: logger}

	var cron []jobs.CronRegistration
	if cfg.IngestSchedule != "" {
		task, err := jobs.NewIngestTask("", execution.TriggerSchedule, cfg.IngestTaskRetries)
		if err != nil {
			logger.Error("build ingest task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.IngestSchedule, Task: task})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Mailer:    jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIngest, Handler: ingestJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		ExecutionHandler: executionhttp.NewHandler(execution.NewPostgresRepository(pool), queue, logger),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})
	server := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting admin server", slog.String("addr", cfg.AdminAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err), slog.Int("exit_code", pipeline.ExitFailed))
		os.Exit(pipeline.ExitFailed)
	}
	logger.Info("worker stopped")
}

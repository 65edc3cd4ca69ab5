package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/dre-ingest/cmd/dreingest/cli"
	"github.com/odyssey-erp/dre-ingest/internal/app"
	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
	"github.com/odyssey-erp/dre-ingest/internal/platform/cache"
	"github.com/odyssey-erp/dre-ingest/internal/platform/db"
	"github.com/odyssey-erp/dre-ingest/internal/sheet"
	"github.com/odyssey-erp/dre-ingest/jobs"
)

const usage = `usage: dreingest <command> [flags]

commands:
  run      [--batch-id ID] [--json]   download and load the DRE workbook now
  trigger  [--batch-id ID]            queue a run for the worker
  status   [--id UUID] [--json]       show an execution (latest by default)
  migrate                             apply database migrations
  inspect  --file PATH [--json]       parse a local workbook without loading it
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping dreingest")
		return
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return pipeline.ExitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	fs := flag.NewFlagSet("dreingest "+command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	batchID := fs.String("batch-id", "", "override the generated batch id")
	jsonOut := fs.Bool("json", false, "print JSON instead of text")
	id := fs.String("id", "", "execution id")
	file := fs.String("file", "", "workbook path")

	switch command {
	case "run", "trigger", "status", "migrate", "inspect":
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "dreingest: unknown command %q\n%s", command, usage)
		return pipeline.ExitUsage
	}
	if err := fs.Parse(rest); err != nil || fs.NArg() > 0 {
		return pipeline.ExitUsage
	}

	// inspect works offline and needs no configuration.
	if command == "inspect" {
		return cli.InspectCommand(sheet.NewParser(), cli.InspectOptions{
			Path:         *file,
			ProjectLabel: os.Getenv("PROJECT_LABEL"),
			JSONOutput:   *jsonOut,
			Stdout:       stdout,
			Stderr:       stderr,
		})
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "dreingest: load config: %v\n", err)
		return pipeline.ExitUsage
	}
	logger := app.NewLoggerTo(cfg, stderr)

	switch command {
	case "migrate":
		version, changed, err := db.Migrate(cfg.PGDSN)
		if err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return pipeline.ExitFailed
		}
		logger.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("changed", changed))
		return pipeline.ExitCompleted

	case "trigger":
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.IngestTaskRetries)
		if err != nil {
			logger.Error("init queue client", slog.Any("error", err))
			return pipeline.ExitFailed
		}
		defer func() { _ = client.Close() }()
		return cli.TriggerCommand(ctx, client, cli.TriggerOptions{BatchID: *batchID, Stdout: stdout, Stderr: stderr})
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return pipeline.ExitFailed
	}
	defer pool.Close()

	if command == "status" {
		return cli.StatusCommand(ctx, execution.NewPostgresRepository(pool), cli.StatusOptions{
			ID:         *id,
			JSONOutput: *jsonOut,
			Stdout:     stdout,
			Stderr:     stderr,
		})
	}

	var rdb redis.UniversalClient
	if strings.EqualFold(cfg.LockBackend, app.LockBackendRedis) {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			return pipeline.ExitFailed
		}
		defer func() { _ = client.Close() }()
		rdb = client
	}

	deps := app.PipelineDeps{Pool: pool, Redis: rdb, Logger: logger}
	if cfg.NotifyEmailTo != "" {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.IngestTaskRetries)
		if err != nil {
			logger.Warn("notifications disabled", slog.Any("error", err))
		} else {
			defer func() { _ = client.Close() }()
			deps.Notifier = jobs.NewMailNotifier(client, cfg.NotifyEmailTo)
		}
	}

	orchestrator, err := app.NewOrchestrator(ctx, cfg, deps)
	if err != nil {
		logger.Error("init pipeline", slog.Any("error", err))
		return pipeline.ExitFailed
	}
	return cli.RunCommand(ctx, orchestrator, cli.RunOptions{
		BatchID:    *batchID,
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/dre-ingest/internal/archive"
	"github.com/odyssey-erp/dre-ingest/internal/download"
	"github.com/odyssey-erp/dre-ingest/internal/execution"
	jobmetrics "github.com/odyssey-erp/dre-ingest/internal/jobs"
	"github.com/odyssey-erp/dre-ingest/internal/loader"
	"github.com/odyssey-erp/dre-ingest/internal/lock"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
	"github.com/odyssey-erp/dre-ingest/internal/sheet"
	"github.com/odyssey-erp/dre-ingest/internal/vault"
)

// PipelineDeps are the long-lived connections an orchestrator is built on.
type PipelineDeps struct {
	Pool     *pgxpool.Pool
	Redis    redis.UniversalClient
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Notifier pipeline.Notifier
}

// NewLocker selects the single-flight backend named by LOCK_BACKEND.
func NewLocker(cfg *Config, pool *pgxpool.Pool, rdb redis.UniversalClient) (lock.Locker, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case LockBackendPostgres, "":
		if pool == nil {
			return nil, errors.New("app: postgres lock requires a database pool")
		}
		return lock.NewPostgresLocker(pool, shared.IngestLockName), nil
	case LockBackendRedis:
		if rdb == nil {
			return nil, errors.New("app: redis lock requires a redis client")
		}
		return lock.NewRedisLocker(rdb, shared.IngestLockName, cfg.LockTTL, lockOwner()), nil
	case LockBackendFile:
		return lock.NewFileLocker(cfg.LockFile), nil
	default:
		return nil, fmt.Errorf("app: unknown lock backend %q", cfg.LockBackend)
	}
}

// NewSecretStore selects where credentials are read from.
func NewSecretStore(cfg *Config, pool *pgxpool.Pool) (vault.Store, error) {
	switch strings.ToLower(cfg.SecretBackend) {
	case "env":
		return vault.NewEnvStore(), nil
	case "postgres", "":
		if pool == nil {
			return nil, errors.New("app: postgres secret store requires a database pool")
		}
		return vault.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("app: unknown secret backend %q", cfg.SecretBackend)
	}
}

// SecretNames returns the configured vault keys.
func (c *Config) SecretNames() vault.Names {
	return vault.Names{URL: c.SecretURLName, Username: c.SecretUsernameName, Password: c.SecretPasswordName}
}

// DownloadConfig maps DOWNLOAD_* settings.
func (c *Config) DownloadConfig() download.Config {
	return download.Config{
		MaxAttempts:        c.DownloadMaxAttempts,
		Timeout:            c.DownloadTimeout,
		BackoffBase:        c.DownloadBackoffBase,
		BackoffCap:         c.DownloadBackoffCap,
		InsecureSkipVerify: c.DownloadInsecureSkipVerify,
	}
}

// NewOrchestrator assembles the ingestion pipeline from cfg.
func NewOrchestrator(ctx context.Context, cfg *Config, deps PipelineDeps) (*pipeline.Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker, err := NewLocker(cfg, deps.Pool, deps.Redis)
	if err != nil {
		return nil, err
	}
	store, err := NewSecretStore(cfg, deps.Pool)
	if err != nil {
		return nil, err
	}
	if deps.Pool == nil {
		return nil, errors.New("app: database pool required")
	}

	destination := loader.NewPostgresStore(deps.Pool)
	pd := pipeline.Deps{
		Locker:       locker,
		Credentials:  vault.NewResolver(store, cfg.SecretCacheTTL, logger),
		SecretNames:  cfg.SecretNames(),
		Downloader:   download.New(cfg.DownloadConfig(), logger.With(slog.String("component", "download"))),
		Parser:       sheet.NewParser(),
		Loader:       loader.New(destination, loader.Config{ChunkSize: cfg.LoadChunkSize, RatePerSecond: cfg.LoadRatePerSecond}, logger),
		Batches:      destination,
		Executions:   execution.NewPostgresRepository(deps.Pool),
		Notifier:     deps.Notifier,
		Metrics:      deps.Metrics,
		Logger:       logger,
		ProjectLabel: cfg.ProjectLabel,
		RunTimeout:   cfg.RunTimeout,
	}
	if cfg.ArchiveEnabled() {
		archiver, err := archive.New(ctx, archive.Config{
			Bucket:          cfg.ArchiveBucket,
			Prefix:          cfg.ArchivePrefix,
			Region:          cfg.ArchiveRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.ArchiveKeyID,
			SecretAccessKey: cfg.ArchiveSecret,
		}, logger)
		if err != nil {
			return nil, err
		}
		pd.Archiver = archiver
	}
	return pipeline.New(pd)
}

func lockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}

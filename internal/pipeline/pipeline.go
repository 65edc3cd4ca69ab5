// Package pipeline sequences credential lookup, download, parsing,
// normalization and loading into a single audited run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/dre-ingest/internal/archive"
	"github.com/odyssey-erp/dre-ingest/internal/download"
	"github.com/odyssey-erp/dre-ingest/internal/dre"
	"github.com/odyssey-erp/dre-ingest/internal/execution"
	jobmetrics "github.com/odyssey-erp/dre-ingest/internal/jobs"
	"github.com/odyssey-erp/dre-ingest/internal/loader"
	"github.com/odyssey-erp/dre-ingest/internal/lock"
	"github.com/odyssey-erp/dre-ingest/internal/sheet"
	"github.com/odyssey-erp/dre-ingest/internal/vault"
)

// JobName labels ingestion runs in job metrics and the task queue.
const JobName = "dre:ingest"

const cleanupTimeout = 15 * time.Second

// CredentialSource resolves the download URL, username and password.
type CredentialSource interface {
	Credentials(ctx context.Context, names vault.Names) (vault.Credentials, error)
}

// Downloader fetches the workbook.
type Downloader interface {
	Download(ctx context.Context, creds vault.Credentials) (download.Payload, error)
}

// Archiver keeps a copy of the raw workbook.
type Archiver interface {
	Store(ctx context.Context, body []byte, at time.Time) (archive.Object, error)
}

// Parser decodes workbook bytes.
type Parser interface {
	Parse(data []byte) (sheet.Table, error)
}

// Loader writes normalized records.
type Loader interface {
	Load(ctx context.Context, records []dre.Record) (loader.Result, error)
}

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, res Result) error
}

// Deps wires an Orchestrator. Archiver, Batches, Notifier and Metrics are optional.
type Deps struct {
	Locker       lock.Locker
	Credentials  CredentialSource
	SecretNames  vault.Names
	Downloader   Downloader
	Archiver     Archiver
	Parser       Parser
	Loader       Loader
	Batches      loader.BatchRegistry
	Executions   execution.Repository
	Notifier     Notifier
	Metrics      *jobmetrics.Metrics
	Logger       *slog.Logger
	Clock        func() time.Time
	ProjectLabel string
	RunTimeout   time.Duration
}

// Orchestrator runs the ingestion stages under the single-flight lock.
type Orchestrator struct {
	deps Deps
	now  func() time.Time
	log  *slog.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Locker == nil:
		return nil, errors.New("pipeline: locker required")
	case deps.Credentials == nil:
		return nil, errors.New("pipeline: credential source required")
	case deps.Downloader == nil:
		return nil, errors.New("pipeline: downloader required")
	case deps.Parser == nil:
		return nil, errors.New("pipeline: parser required")
	case deps.Loader == nil:
		return nil, errors.New("pipeline: loader required")
	case deps.Executions == nil:
		return nil, errors.New("pipeline: execution repository required")
	}
	if deps.ProjectLabel == "" {
		deps.ProjectLabel = dre.DefaultProjeto
	}
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, now: now, log: logger.With(slog.String("component", "pipeline"))}, nil
}

// BatchID builds the default batch identifier, e.g. HITSS_AUTO_1719734400.
func BatchID(label string, at time.Time) string {
	return label + "_" + strconv.FormatInt(at.Unix(), 10)
}

// FileName builds the logical file name stored on every record, e.g. hitss_auto_2024-06-30.xlsx.
func FileName(label string, at time.Time) string {
	return strings.ToLower(label) + "_" + at.Format("2006-01-02") + ".xlsx"
}

// Run executes one ingestion. A held lock returns *lock.AlreadyRunningError
// before anything else is touched. For every other outcome the execution
// record reaches a terminal status and the returned error is the fatal cause,
// if any.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Result, error) {
	lease, err := o.deps.Locker.Acquire(ctx)
	if err != nil {
		if lock.IsAlreadyRunning(err) {
			o.log.Warn("ingestion already running", slog.Any("error", err))
			return Result{}, err
		}
		return Result{Status: execution.StatusFailed, ErrorMessage: err.Error()}, fmt.Errorf("pipeline: acquire lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			o.log.Error("release ingestion lock", slog.Any("error", err))
		}
	}()

	job := o.deps.Metrics.Track(JobName)

	if o.deps.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deps.RunTimeout)
		defer cancel()
	}

	startedAt := o.now()
	res := Result{
		BatchID:  opts.BatchID,
		FileName: FileName(o.deps.ProjectLabel, startedAt),
	}
	if res.BatchID == "" {
		res.BatchID = BatchID(o.deps.ProjectLabel, startedAt)
	}

	tracker := execution.NewTracker(o.deps.Executions, o.log)
	id, err := tracker.Begin(ctx, res.BatchID, opts.Trigger)
	if err != nil {
		res.Status = execution.StatusFailed
		res.ErrorMessage = err.Error()
		return res, job.End(fmt.Errorf("pipeline: begin execution: %w", err))
	}
	res.ExecutionID = id

	runErr := o.stages(ctx, tracker, &res)
	switch {
	case runErr != nil:
		res.Status = execution.StatusFailed
		res.ErrorMessage = runErr.Error()
	case res.Skipped > 0 || res.FailedChunks > 0:
		res.Status = execution.StatusPartial
		res.ErrorMessage = partialMessage(res)
	default:
		res.Status = execution.StatusCompleted
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	tracker.Step(finishCtx, execution.StepSummary, summaryStatus(res.Status), summaryMessage(res))
	if err := tracker.Finish(finishCtx, res.Status, res.ErrorMessage); err != nil {
		o.log.Error("persist execution result", slog.String("execution_id", id.String()), slog.Any("error", err))
		// A run whose outcome was never recorded is not a success.
		if runErr == nil {
			runErr = fmt.Errorf("pipeline: persist execution result: %w", err)
		}
	}
	res.Steps = tracker.Events()

	o.deps.Metrics.ObserveIngest(jobmetrics.IngestSummary{
		Status:       string(res.Status),
		Attempts:     res.Attempts,
		Bytes:        res.Bytes,
		Inserted:     res.Inserted,
		FailedChunks: res.FailedChunks,
		Skipped:      res.SkipReasons,
		FinishedAt:   o.now(),
	})
	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.Notify(finishCtx, res); err != nil {
			o.log.Warn("notify execution result", slog.String("execution_id", id.String()), slog.Any("error", err))
		}
	}
	return res, job.End(runErr)
}

func (o *Orchestrator) stages(ctx context.Context, tracker *execution.Tracker, res *Result) error {
	// The audit trail must survive the run deadline.
	audit := context.WithoutCancel(ctx)
	o.phase(audit, tracker, execution.PhaseDownloading)

	creds, err := o.deps.Credentials.Credentials(ctx, o.deps.SecretNames)
	if err != nil {
		tracker.Step(audit, execution.StepCredentials, execution.StepError, err.Error())
		return err
	}
	tracker.Step(audit, execution.StepCredentials, execution.StepSuccess, "credentials resolved")

	payload, err := o.deps.Downloader.Download(ctx, creds)
	if err != nil {
		var dlErr *download.DownloadError
		if errors.As(err, &dlErr) {
			res.Attempts = dlErr.Attempts
		}
		tracker.Step(audit, execution.StepDownload, execution.StepError, err.Error())
		return err
	}
	res.Attempts = payload.Attempts
	res.Bytes = payload.Size()
	tracker.Step(audit, execution.StepDownload, execution.StepSuccess,
		fmt.Sprintf("%d bytes in %s after %d attempt(s)", payload.Size(), payload.Elapsed.Round(time.Millisecond), payload.Attempts))

	if o.deps.Archiver != nil {
		obj, err := o.deps.Archiver.Store(ctx, payload.Body, o.now())
		if err != nil {
			tracker.Step(audit, execution.StepArchive, execution.StepError, err.Error())
		} else {
			res.ArchiveKey = obj.Key
			tracker.Step(audit, execution.StepArchive, execution.StepSuccess, obj.Key)
		}
	}

	o.phase(audit, tracker, execution.PhaseProcessing)

	table, err := o.deps.Parser.Parse(payload.Body)
	if err != nil {
		tracker.Step(audit, execution.StepParse, execution.StepError, err.Error())
		return err
	}
	tracker.Step(audit, execution.StepParse, execution.StepSuccess,
		fmt.Sprintf("sheet %q (%s form), header row %d, %d raw rows, %d rows without account", table.Sheet, table.Shape, table.HeaderRow, len(table.Rows), table.SkippedRows))

	normalizer := dre.NewNormalizer(dre.NormalizerConfig{
		BatchID:      res.BatchID,
		FileName:     res.FileName,
		ProjectLabel: o.deps.ProjectLabel,
	})
	report := normalizer.NormalizeAll(table.Rows)
	res.Skipped = report.Skipped
	res.SkipReasons = report.Reasons
	normalizeStatus := execution.StepSuccess
	if report.Skipped > 0 {
		normalizeStatus = execution.StepWarning
		for _, sample := range report.Samples {
			o.log.Debug("row skipped", slog.Int("row", sample.Row), slog.Int("column", sample.Column), slog.String("reason", sample.Reason), slog.String("detail", sample.Detail))
		}
	}
	tracker.Step(audit, execution.StepNormalize, normalizeStatus,
		fmt.Sprintf("%d records, %d skipped%s", len(report.Records), report.Skipped, formatReasons(report.Reasons)))

	o.phase(audit, tracker, execution.PhaseInserting)

	loaded, err := o.deps.Loader.Load(ctx, report.Records)
	res.Inserted = loaded.Inserted
	res.FailedChunks = len(loaded.FailedChunks)
	res.RecordsProcessed = loaded.Inserted
	res.RecordsFailed = report.Skipped + loaded.Failed
	if cerr := tracker.RecordCounts(audit, res.RecordsProcessed, res.RecordsFailed); cerr != nil {
		o.log.Warn("persist execution counts", slog.Any("error", cerr))
	}
	if err != nil {
		tracker.Step(audit, execution.StepLoad, execution.StepError,
			fmt.Sprintf("load interrupted after %d of %d records: %v", loaded.Inserted, len(report.Records), err))
		return fmt.Errorf("pipeline: load: %w", err)
	}
	loadStatus := execution.StepSuccess
	loadMessage := fmt.Sprintf("%d records in %d chunk(s)", loaded.Inserted, loaded.Chunks)
	if len(loaded.FailedChunks) > 0 {
		loadStatus = execution.StepWarning
		parts := make([]string, 0, len(loaded.FailedChunks))
		for _, fc := range loaded.FailedChunks {
			parts = append(parts, fc.Error())
		}
		loadMessage += "; " + strings.Join(parts, "; ")
	}
	tracker.Step(audit, execution.StepLoad, loadStatus, loadMessage)

	if o.deps.Batches != nil && loaded.Inserted > 0 && len(loaded.FailedChunks) == 0 {
		deactivated, err := loader.Promote(ctx, o.deps.Batches, loader.BatchInfo{
			BatchID:  res.BatchID,
			FileName: res.FileName,
			Records:  loaded.Inserted,
		})
		res.Deactivated = deactivated
		if err != nil {
			tracker.Step(audit, execution.StepPromote, execution.StepWarning, err.Error())
		} else {
			tracker.Step(audit, execution.StepPromote, execution.StepSuccess,
				fmt.Sprintf("batch %s active, %d superseded", res.BatchID, len(deactivated)))
		}
	}
	return nil
}

func (o *Orchestrator) phase(ctx context.Context, tracker *execution.Tracker, phase execution.Phase) {
	if err := tracker.SetPhase(ctx, phase); err != nil {
		o.log.Warn("persist execution phase", slog.String("phase", string(phase)), slog.Any("error", err))
	}
}

func summaryStatus(status execution.Status) execution.StepStatus {
	switch status {
	case execution.StatusCompleted:
		return execution.StepSuccess
	case execution.StatusPartial:
		return execution.StepWarning
	default:
		return execution.StepError
	}
}

func summaryMessage(res Result) string {
	return fmt.Sprintf("status=%s processed=%d failed=%d skipped=%d failed_chunks=%d",
		res.Status, res.RecordsProcessed, res.RecordsFailed, res.Skipped, res.FailedChunks)
}

func partialMessage(res Result) string {
	var parts []string
	if res.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d rows skipped", res.Skipped))
	}
	if res.FailedChunks > 0 {
		parts = append(parts, fmt.Sprintf("%d chunk(s) failed", res.FailedChunks))
	}
	return strings.Join(parts, "; ")
}

func formatReasons(reasons map[string]int) string {
	if len(reasons) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, reasons[k]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/lock"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
)

// TaskIngest runs one DRE ingestion.
const TaskIngest = pipeline.JobName

// ingestUniqueTTL keeps duplicate enqueues from piling up behind a running task.
const ingestUniqueTTL = 30 * time.Minute

// IngestPayload selects what the queued run loads.
type IngestPayload struct {
	BatchID string            `json:"batch_id,omitempty"`
	Trigger execution.Trigger `json:"trigger"`
}

// NewIngestTask builds a dre:ingest task.
func NewIngestTask(batchID string, trigger execution.Trigger, maxRetry int) (*asynq.Task, error) {
	if trigger == "" {
		trigger = execution.TriggerSchedule
	}
	body, err := json.Marshal(IngestPayload{BatchID: batchID, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	return asynq.NewTask(TaskIngest, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(maxRetry),
		asynq.Unique(ingestUniqueTTL),
	), nil
}

// Runner executes the pipeline.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Result, error)
}

// IngestJob adapts the pipeline to an asynq handler.
type IngestJob struct {
	Runner Runner
	Logger *slog.Logger
}

// Handle executes the queued run. A held lock is not retried.
func (j *IngestJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return fmt.Errorf("ingest: runner not configured: %w", asynq.SkipRetry)
	}
	var payload IngestPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("ingest: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Trigger == "" {
		payload.Trigger = execution.TriggerSchedule
	}

	res, err := j.Runner.Run(ctx, pipeline.Options{BatchID: payload.BatchID, Trigger: payload.Trigger})
	if lock.IsAlreadyRunning(err) {
		j.log().Warn("ingest skipped, another run holds the lock", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		j.log().Error("ingest failed",
			slog.String("execution_id", res.ExecutionID.String()),
			slog.String("batch_id", res.BatchID),
			slog.Any("error", err))
		return err
	}
	j.log().Info("ingest finished",
		slog.String("execution_id", res.ExecutionID.String()),
		slog.String("batch_id", res.BatchID),
		slog.String("status", string(res.Status)),
		slog.Int("records_processed", res.RecordsProcessed),
		slog.Int("records_failed", res.RecordsFailed))
	return nil
}

func (j *IngestJob) log() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

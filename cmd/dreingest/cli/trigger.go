package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// Enqueuer hands an ingestion run to the worker queue.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, batchID string, trigger execution.Trigger) (string, error)
}

// TriggerOptions defines the flags of the trigger command.
type TriggerOptions struct {
	BatchID string
	Stdout  io.Writer
	Stderr  io.Writer
}

// TriggerCommand queues a run for the worker instead of running in-process.
func TriggerCommand(ctx context.Context, enqueuer Enqueuer, opts TriggerOptions) int {
	opts.Stdout, opts.Stderr = writers(opts.Stdout, opts.Stderr)
	if enqueuer == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "trigger: queue not configured")
		return pipeline.ExitFailed
	}
	taskID, err := enqueuer.EnqueueIngest(ctx, strings.TrimSpace(opts.BatchID), execution.TriggerCLI)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "trigger: %v\n", err)
		if errors.Is(err, shared.ErrConflict) {
			return pipeline.ExitAlreadyRunning
		}
		return pipeline.ExitFailed
	}
	_, _ = fmt.Fprintf(opts.Stdout, "queued %s\n", taskID)
	return pipeline.ExitCompleted
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// ExecutionReader reads the persisted audit trail.
type ExecutionReader interface {
	Get(ctx context.Context, id uuid.UUID) (execution.Record, error)
	Latest(ctx context.Context) (execution.Record, error)
	Steps(ctx context.Context, id uuid.UUID) ([]execution.StepEvent, error)
}

// StatusOptions defines the flags of the status command.
type StatusOptions struct {
	ID         string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatusView is the JSON shape printed by status.
type StatusView struct {
	Execution execution.Record      `json:"execution"`
	Steps     []execution.StepEvent `json:"steps"`
}

// StatusCommand prints an execution, the latest one when no id is given.
func StatusCommand(ctx context.Context, reader ExecutionReader, opts StatusOptions) int {
	opts.Stdout, opts.Stderr = writers(opts.Stdout, opts.Stderr)
	if reader == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "status: execution store not configured")
		return 1
	}

	var (
		rec execution.Record
		err error
	)
	if id := strings.TrimSpace(opts.ID); id != "" {
		parsed, perr := uuid.Parse(id)
		if perr != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "status: invalid execution id %q\n", opts.ID)
			return 64
		}
		rec, err = reader.Get(ctx, parsed)
	} else {
		rec, err = reader.Latest(ctx)
	}
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			_, _ = fmt.Fprintln(opts.Stderr, "status: execution not found")
		} else {
			_, _ = fmt.Fprintf(opts.Stderr, "status: %v\n", err)
		}
		return 1
	}
	steps, err := reader.Steps(ctx, rec.ID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "status: steps: %v\n", err)
		return 1
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(StatusView{Execution: rec, Steps: steps}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "status: encode json: %v\n", err)
			return 1
		}
		return 0
	}

	_, _ = fmt.Fprintf(opts.Stdout, "Execution %s: %s\n", rec.ID, strings.ToUpper(string(rec.Status)))
	_, _ = fmt.Fprintf(opts.Stdout, "  batch:     %s\n", rec.BatchID)
	_, _ = fmt.Fprintf(opts.Stdout, "  trigger:   %s\n", rec.TriggeredBy)
	if rec.Phase != "" {
		_, _ = fmt.Fprintf(opts.Stdout, "  phase:     %s\n", rec.Phase)
	}
	_, _ = fmt.Fprintf(opts.Stdout, "  started:   %s\n", rec.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	if rec.CompletedAt != nil {
		_, _ = fmt.Fprintf(opts.Stdout, "  completed: %s\n", rec.CompletedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	_, _ = fmt.Fprintf(opts.Stdout, "  records:   %d processed, %d failed\n", rec.RecordsProcessed, rec.RecordsFailed)
	if rec.ErrorMessage != "" {
		_, _ = fmt.Fprintf(opts.Stdout, "  error:     %s\n", rec.ErrorMessage)
	}
	renderSteps(opts.Stdout, steps)
	return 0
}

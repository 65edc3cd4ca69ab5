// Package cli implements the dreingest subcommands. Every command returns the
// process exit status instead of exiting so it can be driven from tests.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/lock"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Result, error)
}

// RunOptions defines the flags of the run command.
type RunOptions struct {
	BatchID    string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RunCommand performs a CLI-triggered run and maps the outcome to an exit code.
func RunCommand(ctx context.Context, runner Runner, opts RunOptions) int {
	opts.Stdout, opts.Stderr = writers(opts.Stdout, opts.Stderr)
	if runner == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "run: pipeline not configured")
		return pipeline.ExitFailed
	}

	res, err := runner.Run(ctx, pipeline.Options{
		BatchID: strings.TrimSpace(opts.BatchID),
		Trigger: execution.TriggerCLI,
	})
	code := pipeline.ExitCode(res, err)
	if lock.IsAlreadyRunning(err) {
		_, _ = fmt.Fprintf(opts.Stderr, "run: %v\n", err)
		return code
	}

	if opts.JSONOutput {
		if encErr := json.NewEncoder(opts.Stdout).Encode(res); encErr != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "run: encode json: %v\n", encErr)
			return pipeline.ExitFailed
		}
	} else {
		renderRunHuman(opts.Stdout, res)
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "run: %v\n", err)
	}
	return code
}

func renderRunHuman(w io.Writer, res pipeline.Result) {
	_, _ = fmt.Fprintf(w, "Execution %s: %s\n", res.ExecutionID, strings.ToUpper(string(res.Status)))
	_, _ = fmt.Fprintf(w, "  batch:      %s\n", res.BatchID)
	_, _ = fmt.Fprintf(w, "  file:       %s\n", res.FileName)
	_, _ = fmt.Fprintf(w, "  download:   %d bytes, %d attempt(s)\n", res.Bytes, res.Attempts)
	if res.ArchiveKey != "" {
		_, _ = fmt.Fprintf(w, "  archived:   %s\n", res.ArchiveKey)
	}
	_, _ = fmt.Fprintf(w, "  processed:  %d\n", res.RecordsProcessed)
	_, _ = fmt.Fprintf(w, "  failed:     %d (%d skipped rows, %d failed chunks)\n", res.RecordsFailed, res.Skipped, res.FailedChunks)
	if len(res.SkipReasons) > 0 {
		reasons := make([]string, 0, len(res.SkipReasons))
		for reason := range res.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			_, _ = fmt.Fprintf(w, "    - %s: %d\n", reason, res.SkipReasons[reason])
		}
	}
	if len(res.Deactivated) > 0 {
		_, _ = fmt.Fprintf(w, "  superseded: %s\n", strings.Join(res.Deactivated, ", "))
	}
	if res.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "  error:      %s\n", res.ErrorMessage)
	}
	renderSteps(w, res.Steps)
}

func renderSteps(w io.Writer, steps []execution.StepEvent) {
	if len(steps) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "Steps:")
	for _, step := range steps {
		_, _ = fmt.Fprintf(w, "  %s  %-18s %-8s %s\n", step.At.UTC().Format("15:04:05"), step.Step, step.Status, step.Message)
	}
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

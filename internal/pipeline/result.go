package pipeline

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/dre-ingest/internal/execution"
	"github.com/odyssey-erp/dre-ingest/internal/lock"
)

// Exit codes of the dreingest binary.
const (
	ExitCompleted      = 0
	ExitFailed         = 1
	ExitPartial        = 2
	ExitAlreadyRunning = 3
	ExitUsage          = 64
)

// Options select what a single run loads.
type Options struct {
	// BatchID overrides the generated <label>_<unix> identifier.
	BatchID string
	Trigger execution.Trigger
}

// Result is the outcome of one run.
type Result struct {
	ExecutionID      uuid.UUID             `json:"execution_id"`
	BatchID          string                `json:"batch_id"`
	FileName         string                `json:"file_name"`
	Status           execution.Status      `json:"status"`
	RecordsProcessed int                   `json:"records_processed"`
	RecordsFailed    int                   `json:"records_failed"`
	Skipped          int                   `json:"skipped"`
	SkipReasons      map[string]int        `json:"skip_reasons,omitempty"`
	Inserted         int                   `json:"inserted"`
	FailedChunks     int                   `json:"failed_chunks"`
	Attempts         int                   `json:"download_attempts"`
	Bytes            int                   `json:"download_bytes"`
	ArchiveKey       string                `json:"archive_key,omitempty"`
	Deactivated      []string              `json:"deactivated_batches,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	Steps            []execution.StepEvent `json:"steps"`
}

// ExitCode maps a run outcome onto the process exit status.
func ExitCode(res Result, err error) int {
	if lock.IsAlreadyRunning(err) {
		return ExitAlreadyRunning
	}
	if err != nil {
		return ExitFailed
	}
	switch res.Status {
	case execution.StatusCompleted:
		return ExitCompleted
	case execution.StatusPartial:
		return ExitPartial
	default:
		return ExitFailed
	}
}

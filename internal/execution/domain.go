// Package execution records the audit trail of ingestion runs.
package execution

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// Phase is the stage a running execution is in.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseProcessing  Phase = "processing"
	PhaseInserting   Phase = "inserting"
	PhaseCompleted   Phase = "completed"
)

func (p Phase) rank() int {
	switch p {
	case PhaseDownloading:
		return 1
	case PhaseProcessing:
		return 2
	case PhaseInserting:
		return 3
	case PhaseCompleted:
		return 4
	default:
		return 0
	}
}

// Trigger records what started an execution.
type Trigger string

const (
	TriggerCLI      Trigger = "cli"
	TriggerSchedule Trigger = "schedule"
	TriggerAPI      Trigger = "api"
)

// Step names written to the step log.
const (
	StepCredentials = "CREDENTIALS"
	StepDownload    = "DOWNLOAD_HITSS"
	StepArchive     = "UPLOAD_STORAGE"
	StepParse       = "PARSE"
	StepNormalize   = "NORMALIZE"
	StepLoad        = "LOAD"
	StepPromote     = "PROMOTE_BATCH"
	StepSummary     = "EXECUTION_SUMMARY"
)

// StepStatus is the outcome attached to a step event.
type StepStatus string

const (
	StepStarted StepStatus = "started"
	StepSuccess StepStatus = "success"
	StepWarning StepStatus = "warning"
	StepError   StepStatus = "error"
)

// Record is the persisted state of one execution.
type Record struct {
	ID               uuid.UUID  `json:"id"`
	BatchID          string     `json:"batch_id"`
	Status           Status     `json:"status"`
	Phase            Phase      `json:"phase,omitempty"`
	TriggeredBy      Trigger    `json:"triggered_by"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsFailed    int        `json:"records_failed"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// StepEvent is one entry of the per-execution step log.
type StepEvent struct {
	ExecutionID uuid.UUID  `json:"execution_id"`
	Step        string     `json:"step"`
	Status      StepStatus `json:"status"`
	Message     string     `json:"message"`
	At          time.Time  `json:"at"`
}

var (
	// ErrNotBegun is returned when a transition precedes Begin.
	ErrNotBegun = errors.New("execution: not begun")
	// ErrAlreadyBegun is returned by a second Begin on the same tracker.
	ErrAlreadyBegun = errors.New("execution: already begun")
	// ErrBackwardPhase rejects moving to an earlier phase.
	ErrBackwardPhase = errors.New("execution: phase cannot move backwards")
	// ErrFinished rejects mutations after a terminal status.
	ErrFinished = errors.New("execution: already finished")
	// ErrInvalidStatus rejects non-terminal statuses passed to Finish.
	ErrInvalidStatus = errors.New("execution: finish requires a terminal status")
)

package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists executions and their step log.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	AppendStep(ctx context.Context, ev StepEvent) error
}

// Tracker owns the state machine of a single execution:
// pending -> running{downloading -> processing -> inserting} -> completed|failed|partial.
// Every transition is written through to the Repository before returning.
type Tracker struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	rec      Record
	began    bool
	finished bool
	events   []StepEvent
}

// NewTracker constructs a Tracker for one run.
func NewTracker(repo Repository, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:   repo,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Begin creates the pending execution record.
func (t *Tracker) Begin(ctx context.Context, batchID string, trigger Trigger) (uuid.UUID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.began {
		return t.rec.ID, ErrAlreadyBegun
	}
	if trigger == "" {
		trigger = TriggerCLI
	}
	rec := Record{
		ID:          uuid.New(),
		BatchID:     batchID,
		Status:      StatusPending,
		TriggeredBy: trigger,
		StartedAt:   t.now(),
	}
	if err := t.repo.Insert(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("execution: insert: %w", err)
	}
	t.rec = rec
	t.began = true
	t.logger.Info("execution started", slog.String("execution_id", rec.ID.String()), slog.String("batch_id", batchID))
	return rec.ID, nil
}

// SetPhase moves the execution forward to phase and marks it running.
// Repeating the current phase is a no-op.
func (t *Tracker) SetPhase(ctx context.Context, phase Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.mutable(); err != nil {
		return err
	}
	if phase.rank() == 0 {
		return fmt.Errorf("execution: unknown phase %q", phase)
	}
	if phase.rank() < t.rec.Phase.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardPhase, t.rec.Phase, phase)
	}
	if phase == t.rec.Phase && t.rec.Status == StatusRunning {
		return nil
	}
	t.rec.Status = StatusRunning
	t.rec.Phase = phase
	t.logger.Info("execution phase", slog.String("execution_id", t.rec.ID.String()), slog.String("phase", string(phase)))
	return t.persist(ctx)
}

// RecordCounts stores the processed and failed totals.
func (t *Tracker) RecordCounts(ctx context.Context, processed, failed int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.mutable(); err != nil {
		return err
	}
	t.rec.RecordsProcessed = processed
	t.rec.RecordsFailed = failed
	return t.persist(ctx)
}

// Step appends an entry to the step log. Persistence failures are logged,
// not returned: the step log must never stop a run.
func (t *Tracker) Step(ctx context.Context, step string, status StepStatus, message string) {
	t.mu.Lock()
	ev := StepEvent{ExecutionID: t.rec.ID, Step: step, Status: status, Message: message, At: t.now()}
	t.events = append(t.events, ev)
	began := t.began
	t.mu.Unlock()

	level := slog.LevelInfo
	switch status {
	case StepWarning:
		level = slog.LevelWarn
	case StepError:
		level = slog.LevelError
	}
	t.logger.Log(ctx, level, "execution step",
		slog.String("execution_id", ev.ExecutionID.String()),
		slog.String("step", step),
		slog.String("status", string(status)),
		slog.String("message", message))

	if !began {
		return
	}
	if err := t.repo.AppendStep(ctx, ev); err != nil {
		t.logger.Warn("persist step", slog.String("step", step), slog.Any("error", err))
	}
}

// Finish sets the terminal status. Only the first call has an effect;
// later calls log a warning and return nil.
func (t *Tracker) Finish(ctx context.Context, status Status, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.began {
		return ErrNotBegun
	}
	if t.finished {
		t.logger.Warn("execution already finished",
			slog.String("execution_id", t.rec.ID.String()),
			slog.String("status", string(t.rec.Status)),
			slog.String("ignored_status", string(status)))
		return nil
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	completedAt := t.now()
	t.rec.Status = status
	t.rec.CompletedAt = &completedAt
	t.rec.ErrorMessage = errMsg
	if status != StatusFailed {
		t.rec.Phase = PhaseCompleted
	}
	t.finished = true
	t.logger.Info("execution finished",
		slog.String("execution_id", t.rec.ID.String()),
		slog.String("status", string(status)),
		slog.Int("records_processed", t.rec.RecordsProcessed),
		slog.Int("records_failed", t.rec.RecordsFailed))
	return t.persist(ctx)
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.rec
	if rec.CompletedAt != nil {
		at := *rec.CompletedAt
		rec.CompletedAt = &at
	}
	return rec
}

// Events returns a copy of the step log collected so far.
func (t *Tracker) Events() []StepEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepEvent, len(t.events))
	copy(out, t.events)
	return out
}

func (t *Tracker) mutable() error {
	if !t.began {
		return ErrNotBegun
	}
	if t.finished {
		return ErrFinished
	}
	return nil
}

func (t *Tracker) persist(ctx context.Context) error {
	if err := t.repo.Update(ctx, t.rec); err != nil {
		return fmt.Errorf("execution: update: %w", err)
	}
	return nil
}

package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// DB is the pgx surface used by PostgresRepository; *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores executions in automation_executions and steps in
// dre_execution_logs.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository constructs the repository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const executionColumns = `id, batch_id, status, COALESCE(phase, ''), triggered_by, started_at, completed_at,
    records_processed, records_failed, COALESCE(error_message, '')`

// Insert implements Repository.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.Exec(ctx, `INSERT INTO automation_executions
    (id, batch_id, status, phase, triggered_by, started_at, records_processed, records_failed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.BatchID, string(rec.Status), nullablePhase(rec.Phase), string(rec.TriggeredBy),
		rec.StartedAt, rec.RecordsProcessed, rec.RecordsFailed)
	return err
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, rec Record) error {
	tag, err := r.db.Exec(ctx, `UPDATE automation_executions SET
    status = $2, phase = $3, completed_at = $4, records_processed = $5, records_failed = $6,
    error_message = $7, updated_at = now()
WHERE id = $1`,
		rec.ID, string(rec.Status), nullablePhase(rec.Phase), rec.CompletedAt,
		rec.RecordsProcessed, rec.RecordsFailed, nullableText(rec.ErrorMessage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", rec.ID, shared.ErrNotFound)
	}
	return nil
}

// AppendStep implements Repository.
func (r *PostgresRepository) AppendStep(ctx context.Context, ev StepEvent) error {
	_, err := r.db.Exec(ctx, `INSERT INTO dre_execution_logs (execution_id, step, status, message, created_at)
VALUES ($1, $2, $3, $4, $5)`, ev.ExecutionID, ev.Step, string(ev.Status), ev.Message, ev.At)
	return err
}

// Get loads one execution.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM automation_executions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("execution %s: %w", id, shared.ErrNotFound)
	}
	return rec, err
}

// List returns executions newest first together with the total count.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]Record, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM automation_executions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+executionColumns+` FROM automation_executions
ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// Latest returns the most recently started execution.
func (r *PostgresRepository) Latest(ctx context.Context) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM automation_executions ORDER BY started_at DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("no executions: %w", shared.ErrNotFound)
	}
	return rec, err
}

// Steps returns the step log of an execution in insertion order.
func (r *PostgresRepository) Steps(ctx context.Context, id uuid.UUID) ([]StepEvent, error) {
	rows, err := r.db.Query(ctx, `SELECT execution_id, step, status, message, created_at
FROM dre_execution_logs WHERE execution_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StepEvent
	for rows.Next() {
		var ev StepEvent
		var status string
		if err := rows.Scan(&ev.ExecutionID, &ev.Step, &status, &ev.Message, &ev.At); err != nil {
			return nil, err
		}
		ev.Status = StepStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                    Record
		status, phase, trigger string
	)
	err := row.Scan(&rec.ID, &rec.BatchID, &status, &phase, &trigger, &rec.StartedAt, &rec.CompletedAt,
		&rec.RecordsProcessed, &rec.RecordsFailed, &rec.ErrorMessage)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Phase = Phase(phase)
	rec.TriggeredBy = Trigger(trigger)
	return rec, nil
}

func nullablePhase(p Phase) *string {
	if p == "" {
		return nil
	}
	s := string(p)
	return &s
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

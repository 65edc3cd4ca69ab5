package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/dre-ingest/internal/dre"
	"github.com/odyssey-erp/dre-ingest/internal/platform/db"
	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

const upsertRecordSQL = `INSERT INTO dre_hitss (
    batch_id, record_key, file_name, tipo, natureza, descricao, valor, mes, ano,
    categoria, projeto, conta_resumo, denominacao_conta, cliente, linha_negocio, raw_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (batch_id, record_key) DO UPDATE SET
    file_name = EXCLUDED.file_name,
    tipo = EXCLUDED.tipo,
    natureza = EXCLUDED.natureza,
    descricao = EXCLUDED.descricao,
    valor = EXCLUDED.valor,
    mes = EXCLUDED.mes,
    ano = EXCLUDED.ano,
    categoria = EXCLUDED.categoria,
    projeto = EXCLUDED.projeto,
    conta_resumo = EXCLUDED.conta_resumo,
    denominacao_conta = EXCLUDED.denominacao_conta,
    cliente = EXCLUDED.cliente,
    linha_negocio = EXCLUDED.linha_negocio,
    raw_data = EXCLUDED.raw_data,
    updated_at = now()`

// DB is the pgx surface used by PostgresStore; *pgxpool.Pool satisfies it.
type DB interface {
	db.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore upserts records and tracks batch activation in PostgreSQL.
type PostgresStore struct {
	db DB
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool DB) *PostgresStore {
	return &PostgresStore{db: pool}
}

// UpsertChunk writes records in a single transaction using a pipelined batch.
func (s *PostgresStore) UpsertChunk(ctx context.Context, records []dre.Record) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(upsertRecordSQL,
				r.BatchID, r.Key(), r.FileName, string(r.Tipo), r.Natureza, r.Descricao, r.Valor,
				r.Period.Month, r.Period.Year, r.Categoria, r.Projeto,
				nullable(r.ContaResumo), nullable(r.DenominacaoConta), nullable(r.Cliente), nullable(r.LinhaNegocio),
				string(rawOrEmpty(r.RawData)))
		}
		br := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return describe(fmt.Sprintf("upsert record %d", i+1), err)
			}
		}
		return br.Close()
	})
}

// ActiveBatches lists batch ids currently marked active.
func (s *PostgresStore) ActiveBatches(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT batch_id FROM dre_batches WHERE status = 'active' ORDER BY activated_at`)
	if err != nil {
		return nil, fmt.Errorf("loader: list active batches: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ActivateBatch moves a batch to active. An already active batch is an
// invalid transition.
func (s *PostgresStore) ActivateBatch(ctx context.Context, info BatchInfo) error {
	tag, err := s.db.Exec(ctx, `INSERT INTO dre_batches (batch_id, status, file_name, records, activated_at)
VALUES ($1, 'active', $2, $3, now())
ON CONFLICT (batch_id) DO UPDATE SET
    status = 'active', file_name = EXCLUDED.file_name, records = EXCLUDED.records,
    activated_at = now(), deactivated_at = NULL
WHERE dre_batches.status = 'inactive'`, info.BatchID, info.FileName, info.Records)
	if err != nil {
		return describe("activate batch", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loader: activate %s: %w", info.BatchID, shared.ErrInvalidTransition)
	}
	return nil
}

// DeactivateBatch moves an active batch to inactive.
func (s *PostgresStore) DeactivateBatch(ctx context.Context, batchID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE dre_batches SET status = 'inactive', deactivated_at = now()
WHERE batch_id = $1 AND status = 'active'`, batchID)
	if err != nil {
		return describe("deactivate batch", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loader: deactivate %s: %w", batchID, shared.ErrInvalidTransition)
	}
	return nil
}

func describe(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("loader: %s: %s (%s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("loader: %s: %w", op, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

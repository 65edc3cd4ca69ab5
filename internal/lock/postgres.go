package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// ConnAcquirer is satisfied by *pgxpool.Pool.
type ConnAcquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// PostgresLocker uses a session-level advisory lock on a dedicated connection.
type PostgresLocker struct {
	pool ConnAcquirer
	name string
	id   int64
}

// NewPostgresLocker constructs a locker for the named critical section.
func NewPostgresLocker(pool ConnAcquirer, name string) *PostgresLocker {
	if name == "" {
		name = shared.IngestLockName
	}
	return &PostgresLocker{pool: pool, name: name, id: shared.AdvisoryLockID(name)}
}

// Acquire tries the advisory lock once.
func (l *PostgresLocker) Acquire(ctx context.Context) (Lease, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock: try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, &AlreadyRunningError{Name: l.name}
	}
	return &postgresLease{conn: conn, id: l.id}, nil
}

type postgresLease struct {
	once sync.Once
	conn *pgxpool.Conn
	id   int64
	err  error
}

func (l *postgresLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		defer l.conn.Release()
		if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.id); err != nil {
			// Closing the session drops the lock anyway.
			_ = l.conn.Conn().Close(ctx)
			l.err = fmt.Errorf("lock: advisory unlock: %w", err)
		}
	})
	return l.err
}

package vault

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Store resolves a single named secret.
type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Querier is the subset of pgx used by PostgresStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// errSecretNotFound is returned by stores for absent or empty secrets.
var errSecretNotFound = errors.New("secret not found")

// PostgresStore reads secrets through the database's get_secret function.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore constructs a store backed by get_secret(name).
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetSecret implements Store.
func (s *PostgresStore) GetSecret(ctx context.Context, name string) (string, error) {
	var value *string
	if err := s.db.QueryRow(ctx, `SELECT get_secret($1)`, name).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errSecretNotFound
		}
		return "", err
	}
	if value == nil || strings.TrimSpace(*value) == "" {
		return "", errSecretNotFound
	}
	return *value, nil
}

// EnvStore reads secrets from process environment variables of the same name.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore constructs an EnvStore over os.LookupEnv.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

// GetSecret implements Store.
func (s *EnvStore) GetSecret(_ context.Context, name string) (string, error) {
	value, ok := s.lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", errSecretNotFound
	}
	return value, nil
}

package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationURLRewritesPostgresSchemes(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable", MigrationURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/db", MigrationURL("postgresql://localhost/db"))
	require.Equal(t, "pgx5://already", MigrationURL("pgx5://already"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.NotZero(t, ups)
	require.Equal(t, ups, downs)
}

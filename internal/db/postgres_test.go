package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/gns", MigrationURL("postgres://u:p@localhost:5432/gns"))
	assert.Equal(t, "pgx5://localhost/gns?sslmode=disable", MigrationURL("postgresql://localhost/gns?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/gns", MigrationURL("pgx5://localhost/gns"))
}

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
}

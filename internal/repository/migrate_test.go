package repository

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{
		"migrations/000001_create_payments.down.sql",
		"migrations/000001_create_payments.up.sql",
		"migrations/000002_unbounded_amount_scale.down.sql",
		"migrations/000002_unbounded_amount_scale.up.sql",
	}, names)

	up, err := fs.ReadFile(migrationsFS, "migrations/000002_unbounded_amount_scale.up.sql")
	require.NoError(t, err)
	require.True(t, strings.Contains(string(up), "TYPE NUMERIC;"))
}

package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)

	_, err = Open(context.Background(), DriverSQLite, "")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn, DriverSQLite))
	require.NoError(t, Migrate(ctx, conn, DriverSQLite))

	for _, table := range []string{"campaigns", "companies", "outreach_usage"} {
		var n int
		require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n), table)
	}
}

func TestDriverName(t *testing.T) {
	assert.Equal(t, DriverSQLite, DriverName("SQLite3"))
	assert.Equal(t, DriverPostgres, DriverName("pq"))
	assert.Equal(t, DriverPostgres, DriverName(""))
}

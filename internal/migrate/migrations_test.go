package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"voteline/internal/db"
	"voteline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := migrate.CurrentVersion(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 0, v)

	require.NoError(t, migrate.Migrate(conn))
	require.NoError(t, migrate.Migrate(conn))

	latest, err := migrate.Latest()
	require.NoError(t, err)
	v, err = migrate.CurrentVersion(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)

	_, err = conn.ExecContext(ctx, `INSERT INTO projects(id,name,status,created_at) VALUES ('p','P','active','now')`)
	require.NoError(t, err)
}

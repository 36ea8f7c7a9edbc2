package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "marketplace.db")}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "sqlite with path", cfg: Config{Driver: DriverSQLite, Path: "x.db"}},
		{name: "sqlite without path", cfg: Config{Driver: DriverSQLite}, wantErr: true},
		{name: "postgres with url", cfg: Config{Driver: DriverPostgres, URL: "postgres://localhost/db"}},
		{name: "postgres without url", cfg: Config{Driver: DriverPostgres}, wantErr: true},
		{name: "unknown driver", cfg: Config{Driver: "mysql", URL: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?"+sqlitePragmas, sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&"+sqlitePragmas, sqliteDSN("file:a.db?mode=rwc"))
}

func TestMigrateUpAndDown(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	// Applying again is a no-op.
	require.NoError(t, Migrate(db))

	version, dirty, err := Version(db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var thinkFitColumns int
	require.NoError(t, db.GetContext(ctx, &thinkFitColumns,
		"SELECT COUNT(*) FROM pragma_table_info('listings') WHERE name = 'think_fit'"))
	assert.Equal(t, 1, thinkFitColumns)

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('builders', 'listings') ORDER BY name"))
	assert.Equal(t, []string{"builders", "listings"}, tables)

	require.NoError(t, MigrateDown(db))
	tables = nil
	require.NoError(t, db.SelectContext(ctx, &tables,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('builders', 'listings')"))
	assert.Empty(t, tables)

	version, _, err = Version(db)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestSchemaEnforcesReviewInvariants(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))

	_, err = db.ExecContext(ctx, `INSERT INTO builders (id, slug, name, created_at) VALUES ('b1', 'acme', 'Acme', '2024-01-01 00:00:00')`)
	require.NoError(t, err)

	insert := `INSERT INTO listings (id, slug, name, type, short_description, review_state, visibility,
		submitter_wallet, builder_id, created_at, updated_at)
		VALUES (?, ?, 'Thing', 'agent', 'desc', ?, ?, '0xabc', ?, '2024-01-01 00:00:00', '2024-01-01 00:00:00')`

	_, err = db.ExecContext(ctx, insert, "l1", "thing", "pending", "", "b1")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "l2", "thing-2", "approved", "", "b1")
	assert.Error(t, err, "approved listing without visibility")

	_, err = db.ExecContext(ctx, insert, "l3", "thing-3", "pending", "featured", "b1")
	assert.Error(t, err, "pending listing with visibility")

	_, err = db.ExecContext(ctx, insert, "l4", "thing", "pending", "", "b1")
	assert.Error(t, err, "duplicate slug")

	_, err = db.ExecContext(ctx, insert, "l5", "thing-5", "pending", "", "missing")
	assert.Error(t, err, "unknown builder")

	_, err = db.ExecContext(ctx, insert, "l6", "thing-6", "archived", "", "b1")
	assert.Error(t, err, "unknown review state")
}

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/integration/database/sqlite"
)

var migrations = fstest.MapFS{
	"m/1_hosts.up.sql":   {Data: []byte("CREATE TABLE hosts (id INTEGER PRIMARY KEY, domain TEXT NOT NULL UNIQUE);")},
	"m/1_hosts.down.sql": {Data: []byte("DROP TABLE hosts;")},
}

func TestOpenAndMigrate(t *testing.T) {
	t.Parallel()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlite.Migrate(db, migrations, "m"))
	require.NoError(t, sqlite.Migrate(db, migrations, "m"), "second run is a no-op")

	_, err = db.Exec("INSERT INTO hosts (domain) VALUES (?)", "example.com")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO hosts (domain) VALUES (?)", "example.com")
	assert.Error(t, err)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	assert.NoError(t, sqlite.Healthcheck(db)(context.Background()))
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := sqlite.Open("")
	assert.ErrorIs(t, err, sqlite.ErrEmptyPath)

	assert.ErrorIs(t, sqlite.Migrate(nil, migrations, "m"), sqlite.ErrNilDB)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	assert.ErrorIs(t, sqlite.Migrate(db, migrations, "missing"), sqlite.ErrMigrationFailed)

	require.NoError(t, db.Close())
	assert.ErrorIs(t, sqlite.Healthcheck(db)(context.Background()), sqlite.ErrHealthcheckFailed)
}

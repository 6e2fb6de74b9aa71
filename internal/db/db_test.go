package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSQLiteDefaults(t *testing.T) {
	assert.Equal(t, "bracket.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", withSQLiteDefaults(""))
	assert.Equal(t, "x.db?_foreign_keys=off&_journal_mode=WAL&_busy_timeout=5000", withSQLiteDefaults("x.db?_foreign_keys=off"))
}

func TestOpenAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bracket.db")

	database, err := Open(DriverSQLite, path, 2*time.Second)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, RunMigrations(database.DB, DriverSQLite))
	// Second run is a no-op
	require.NoError(t, RunMigrations(database.DB, DriverSQLite))

	var tables []string
	err = database.Select(&tables, "SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('tournaments', 'participants', 'matches') ORDER BY name")
	require.NoError(t, err)
	assert.Equal(t, []string{"matches", "participants", "tournaments"}, tables)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", time.Second)
	assert.Error(t, err)
}

func TestRunMigrationsFromDir(t *testing.T) {
	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)

	database, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "bracket.db"), 2*time.Second)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, RunMigrationsFromDir(database.DB, DriverSQLite, dir))

	var version int
	require.NoError(t, database.Get(&version, "SELECT version FROM schema_migrations"))
	assert.Equal(t, 1, version)

	assert.Error(t, RunMigrationsFromDir(database.DB, DriverSQLite, filepath.Join(t.TempDir(), "missing")))
}

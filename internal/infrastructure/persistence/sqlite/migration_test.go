package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	migrator := NewMigrator(db)
	require.NoError(t, migrator.Migrate())

	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigration_NewDatabase(t *testing.T) {
	tmpDB := filepath.Join(t.TempDir(), "test_new_db.db")

	db, err := sql.Open("sqlite3", tmpDB)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	migrator := NewMigrator(db)
	if err := migrator.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	version, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)

	for _, table := range []string{"cycle_states", "job_executions"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s missing", table)
	}

	var hasAttempt bool
	rows, err := db.Query("PRAGMA table_info(job_executions)")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dfltValue sql.NullString
		require.NoError(t, rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk))
		if name == "attempt" {
			hasAttempt = true
		}
	}
	assert.True(t, hasAttempt, "job_executions table missing 'attempt' column")
}

func TestMigration_Idempotent(t *testing.T) {
	tmpDB := filepath.Join(t.TempDir(), "test_idempotent.db")
	defer os.Remove(tmpDB)

	db, err := sql.Open("sqlite3", tmpDB)
	require.NoError(t, err)
	defer db.Close()

	migrator := NewMigrator(db)
	require.NoError(t, migrator.Migrate())
	require.NoError(t, migrator.Migrate())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigration_VersionOnEmptyDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	migrator := NewMigrator(db)
	require.NoError(t, migrator.ensureMigrationsTable())

	version, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements(`
-- comment line
CREATE TABLE a (id INTEGER);

CREATE TABLE b (id INTEGER);
-- trailing comment
`)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INTEGER)", stmts[0])
	assert.Equal(t, "CREATE TABLE b (id INTEGER)", stmts[1])
}

func TestOpen_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "quotacycle.db")

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	version, err := NewMigrator(db).Version()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestMigration_RejectsNewerDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	migrator := NewMigrator(db)
	require.NoError(t, migrator.Migrate())
	_, err = db.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, 'future')", schemaVersion+1)
	require.NoError(t, err)

	err = migrator.Migrate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

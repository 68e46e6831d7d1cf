package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh SQLite file in the test's temp dir.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := Open(DriverPostgres, dsn, MaxOpenConns(2), MaxIdleConns(1))
		require.NoError(t, err, "open postgres test db")

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = Close(db)
		})
		return db
	}

	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open sqlite test db")
	t.Cleanup(func() { _ = Close(db) })
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without requiring
// a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, tbl := range []string{"checkpoints", "jobs"} {
		db.Exec("DELETE FROM " + tbl)
	}
}

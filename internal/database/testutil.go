package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// SetupTestDB creates a migrated in-memory SQLite database for testing.
// It is closed automatically when the test ends.
func SetupTestDB(t testing.TB) *DB {
	t.Helper()

	db, err := New(":memory:")
	require.NoError(t, err, "Failed to create test database")

	t.Cleanup(func() {
		require.NoError(t, db.Close(), "Failed to close test database")
	})
	return db
}

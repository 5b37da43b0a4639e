package sqlite

import (
	"database/sql"
	"testing"
)

// OpenTestDB opens a migrated in-memory database scoped to the test.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/petrijr/contentflow/internal/db"
)

// NewSQLite opens a migrated in-memory SQLite database that is closed when
// the test ends.
func NewSQLite(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(context.Background(), db.MemoryPath)
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

package testutil

import (
	"testing"

	"github.com/jehrhardt/makedev/internal/db"
)

// SetupTestDB creates a migrated in-memory registry for testing
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(db.DefaultConfig(":memory:"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	return database
}

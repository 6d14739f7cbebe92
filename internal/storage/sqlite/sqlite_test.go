package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/FranksOps/serpd/internal/storage/storagetest"
)

func TestSQLiteBackend(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	storagetest.Exercise(t, b)
}

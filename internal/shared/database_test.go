package shared

import (
	"path/filepath"
	"testing"
)

func TestOpenDatabase(t *testing.T) {
	t.Run("file database is migrated", func(t *testing.T) {
		cfg := DatabaseConfig{Path: filepath.Join(t.TempDir(), "playsync.db"), MaxOpenConns: 4, MaxIdleConns: 2}

		db, err := OpenDatabase(cfg)
		if err != nil {
			t.Fatalf("OpenDatabase() error = %v", err)
		}
		defer db.Close()

		if got := db.Stats().MaxOpenConnections; got != 4 {
			t.Errorf("expected max open conns 4, got %d", got)
		}

		if _, err := db.Exec("SELECT 1 FROM integrations LIMIT 1"); err != nil {
			t.Errorf("integrations table missing: %v", err)
		}
	})

	t.Run("memory database uses a single connection", func(t *testing.T) {
		db, err := OpenDatabase(DatabaseConfig{Path: MemoryDatabase, MaxOpenConns: 10})
		if err != nil {
			t.Fatalf("OpenDatabase() error = %v", err)
		}
		defer db.Close()

		if got := db.Stats().MaxOpenConnections; got != 1 {
			t.Errorf("expected 1 connection for memory db, got %d", got)
		}
	})
}

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/BrandonDHaskell/lidmon/internal/db"
	sqlitestore "github.com/BrandonDHaskell/lidmon/internal/lidmon/store/sqlite"
)

// testDBConfig returns a config pointing at a fresh database file under the
// test's temp dir. The store opens and closes the file per call, so an
// in-memory database would not survive between calls.
func testDBConfig(t *testing.T) db.Config {
	t.Helper()
	return db.Config{Path: filepath.Join(t.TempDir(), "lidmon.db")}
}

// newTestWriter returns a db.Worker for cfg.  The worker is closed
// automatically when the test finishes.
func newTestWriter(t *testing.T, cfg db.Config) *db.Worker {
	t.Helper()

	w := db.NewWorker(db.Opener(cfg))
	t.Cleanup(func() { w.Close() })
	return w
}

// newTestStore returns a LidEventStore with the schema already in place.
func newTestStore(t *testing.T, cfg db.Config) *sqlitestore.LidEventStore {
	t.Helper()

	s := sqlitestore.NewLidEventStore(cfg, newTestWriter(t, cfg))
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

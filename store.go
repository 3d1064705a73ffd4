package quantum

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ============================================================================
// Persistent Store
// ============================================================================

// Store is the local transactional store backing the mutation queue. It
// survives process restarts; queued writes captured before a crash are still
// there on the next boot.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the queue database at the given path. Schema
// creation is idempotent, so repeated opens of the same path converge on the
// same single store. Call once at startup and inject the handle into the
// queue and replay engine.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS mutations (
  id TEXT PRIMARY KEY,
  target_url TEXT NOT NULL,
  method TEXT NOT NULL,
  headers TEXT,
  body BLOB,
  enqueued_at INTEGER NOT NULL,
  retry_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mutations_enqueued_at ON mutations(enqueued_at);

CREATE TABLE IF NOT EXISTS dead_letters (
  id TEXT PRIMARY KEY,
  target_url TEXT NOT NULL,
  method TEXT NOT NULL,
  headers TEXT,
  body BLOB,
  enqueued_at INTEGER NOT NULL,
  retry_count INTEGER NOT NULL,
  dropped_at INTEGER NOT NULL,
  last_error TEXT
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

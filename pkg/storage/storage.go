// Package storage persists miner indexes in an embedded SQLite database and
// serves them back with scorable-byte annotations. It is the single source
// of truth across evaluation rounds: readers may interleave freely, and
// upserts are atomic per miner so a half-written index is never observable.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS miners (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    hotkey TEXT NOT NULL UNIQUE,
    credibility REAL NOT NULL DEFAULT 0,
    last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    label_key TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS buckets (
    miner_id INTEGER NOT NULL,
    source INTEGER NOT NULL,
    label_id INTEGER NOT NULL,
    time_bucket_id INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    PRIMARY KEY (miner_id, source, label_id, time_bucket_id)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_buckets_slot ON buckets (source, label_id, time_bucket_id);
`

// Store wraps the SQLite connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (creating if needed) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral store; the original deployment
// ran in-memory and rebuilt indexes over the first evaluation rounds.
func New(path string, logger *zap.Logger) (*Store, error) {
	if !strings.HasPrefix(path, "file:") && !strings.Contains(path, ":memory:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A second connection to ":memory:" would open a second empty database.
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	// Writers queue behind each other instead of failing fast with BUSY.
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("[storage] opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the underlying database.
func (s *Store) Health() error {
	return s.db.Ping()
}

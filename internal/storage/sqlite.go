package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The path must sit on a local filesystem;
// SQLite locking is unreliable over network mounts.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
  turn_id      TEXT PRIMARY KEY,
  gen          INTEGER NOT NULL,
  text         TEXT NOT NULL,
  mode         TEXT,
  source       TEXT,
  confidence   REAL,
  ok           INTEGER,
  reply        TEXT,
  created_at   TEXT NOT NULL,
  completed_at TEXT
);`,
		`CREATE TABLE IF NOT EXISTS job_log (
  job_id       TEXT PRIMARY KEY,
  turn_id      TEXT,
  tool         TEXT NOT NULL,
  args         JSON,
  status       TEXT NOT NULL,
  err_code     TEXT,
  error        TEXT,
  gen          INTEGER NOT NULL,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS turns_created_at_idx ON turns(created_at);`,
		`CREATE INDEX IF NOT EXISTS job_log_turn_id_idx ON job_log(turn_id);`,
		`CREATE INDEX IF NOT EXISTS job_log_tool_status_idx ON job_log(tool, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Package store opens the local SQLite database used for console history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Open opens (creating if needed) the SQLite database at path with WAL
// journaling and a busy timeout.
func Open(path string) (*sql.DB, error) {
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if path == MemoryDSN {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout=5000;"}
	if path != MemoryDSN {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return db, nil
}

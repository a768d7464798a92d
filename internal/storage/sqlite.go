package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite connection holding the static stop and route directory.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

// Open creates or opens a SQLite database at the given path and applies migrations.
func Open(path string, logger *slog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Debug("database opened", "path", path)
	return db, nil
}

// OpenExisting opens the database at path only if the file is already there.
// It returns (nil, nil) when it is missing so callers never create one.
func OpenExisting(path string, logger *slog.Logger) (*DB, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}
	return Open(path, logger)
}

// Close closes the connection. A nil DB is a no-op.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return db.DB.Close()
}

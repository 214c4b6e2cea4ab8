package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// DefaultBusyTimeout is how long a statement waits for a competing writer.
const DefaultBusyTimeout = 5 * time.Second

// Open opens the SQLite database at path with WAL journaling and a busy
// timeout. The pool holds a single connection so writers queue instead of
// failing with SQLITE_BUSY.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(DefaultBusyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	if path != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}
	return db, nil
}

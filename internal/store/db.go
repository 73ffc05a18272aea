package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the per-profile client_state database. It holds the small key/value
// facts the daemon restores on start, such as the last opened contact;
// message history stays with the backend.
type DB struct {
	*sql.DB
}

// Open connects to the sqlite file at path in WAL mode. The schema is not
// touched; call Migrate before reading state.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

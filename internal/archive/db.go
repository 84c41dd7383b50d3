package archive

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the durable local message archive (nchat.db). It mirrors every
// message the client has seen so history pages survive restarts, and keeps
// tombstones for deleted events so a later relay re-sync cannot resurrect
// them.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return &DB{db}, nil
}

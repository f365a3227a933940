package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the acquisitions table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS acquisitions (
		info_hash TEXT PRIMARY KEY,
		torrent_id TEXT NOT NULL,
		name TEXT,
		provider TEXT NOT NULL,
		files TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create acquisitions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_acquisitions_created_at ON acquisitions (created_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return db, nil
}

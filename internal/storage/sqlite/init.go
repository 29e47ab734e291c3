package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS podcasts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		feed_url TEXT NOT NULL,
		download_dir TEXT NOT NULL,
		username TEXT,
		password TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		podcast TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		downloaded_at DATETIME NOT NULL
	)`,
}

// InitDB opens the SQLite database at path and creates the tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// a single connection keeps in-memory databases shared and writes serialized
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return db, nil
}

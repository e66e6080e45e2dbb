//go:build !purego

package sqlitedb

// Default build: CGO SQLite via mattn/go-sqlite3.
//
//	CGO_ENABLED=1 go build ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver in use.
const DriverName = "sqlite3"

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

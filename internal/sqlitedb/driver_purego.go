//go:build purego

package sqlitedb

// Pure Go SQLite via modernc.org/sqlite; no C toolchain required.
//
//	CGO_ENABLED=0 go build -tags purego ./...

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver in use.
const DriverName = "sqlite"

func dsn(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

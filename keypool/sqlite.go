package keypool

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDialect is the embedded-file backend: modernc.org/sqlite, a
// pure-Go driver with no cgo dependency.
type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) schemaDDL() string {
	return `
CREATE TABLE IF NOT EXISTS upstream_keys (
	id TEXT PRIMARY KEY,
	secret TEXT UNIQUE NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'inactive', 'revoked')),
	created_at TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP,
	name TEXT,
	total_requests INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key_id TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	model TEXT,
	outcome TEXT
);
CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_request_logs_key_id ON request_logs(key_id);
`
}

func (sqliteDialect) isDuplicate(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

func (sqliteDialect) isSQLite() bool { return true }

// OpenSQLite opens (creating if necessary) a single-file SQLite-backed
// Repository at path.
func OpenSQLite(path string) (Repository, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer avoids SQLITE_BUSY under this schema
	return newSQLRepository(db, sqliteDialect{})
}

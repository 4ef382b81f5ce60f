package keypool

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// postgresDialect is the networked backend: github.com/lib/pq,
// same schema as sqliteDialect translated to $n placeholders and a
// native CHECK constraint.
type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) schemaDDL() string {
	return `
CREATE TABLE IF NOT EXISTS upstream_keys (
	id TEXT PRIMARY KEY,
	secret TEXT UNIQUE NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'revoked')),
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ,
	name TEXT,
	total_requests BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS request_logs (
	id BIGSERIAL PRIMARY KEY,
	key_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	model TEXT,
	outcome TEXT
);
CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_request_logs_key_id ON request_logs(key_id);
`
}

func (postgresDialect) isDuplicate(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505" // unique_violation
	}
	return strings.Contains(err.Error(), "duplicate key value")
}

func (postgresDialect) isSQLite() bool { return false }

// OpenPostgres opens a Postgres-backed Repository given a libpq
// connection string.
func OpenPostgres(dsn string) (Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLRepository(db, postgresDialect{})
}

package keypool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// dialect isolates the handful of places sqlite and postgres disagree:
// placeholder style, schema DDL, and how a unique-constraint violation
// surfaces from database/sql.
type dialect interface {
	placeholder(n int) string
	schemaDDL() string
	isDuplicate(err error) bool
	isSQLite() bool
}

// sqlRepository implements Repository over database/sql. It is shared
// by the sqlite and postgres backends (see sqlite.go, postgres.go);
// only DSN handling and the dialect differ between them.
type sqlRepository struct {
	db *sql.DB
	d  dialect
}

func newSQLRepository(db *sql.DB, d dialect) (*sqlRepository, error) {
	if _, err := db.Exec(d.schemaDDL()); err != nil {
		return nil, fmt.Errorf("keypool: init schema: %w", err)
	}
	return &sqlRepository{db: db, d: d}, nil
}

func (r *sqlRepository) ph(n int) string { return r.d.placeholder(n) }

func (r *sqlRepository) Add(ctx context.Context, secret, name string) (string, error) {
	id := uuid.New().String()
	q := fmt.Sprintf(
		"INSERT INTO upstream_keys (id, secret, status, created_at, name, total_requests) VALUES (%s, %s, %s, %s, %s, 0)",
		r.ph(1), r.ph(2), r.ph(3), r.ph(4), r.ph(5),
	)
	_, err := r.db.ExecContext(ctx, q, id, secret, string(StatusActive), time.Now().UTC(), nullableString(name))
	if err != nil {
		if r.d.isDuplicate(err) {
			return "", ErrDuplicateSecret
		}
		return "", &StorageError{Op: "add", Err: err}
	}
	return id, nil
}

func (r *sqlRepository) GetByID(ctx context.Context, id string) (*UpstreamKey, error) {
	q := fmt.Sprintf("SELECT id, secret, status, created_at, last_used_at, name, total_requests FROM upstream_keys WHERE id = %s", r.ph(1))
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *sqlRepository) GetBySecret(ctx context.Context, secret string) (*UpstreamKey, error) {
	q := fmt.Sprintf("SELECT id, secret, status, created_at, last_used_at, name, total_requests FROM upstream_keys WHERE secret = %s", r.ph(1))
	return r.scanOne(r.db.QueryRowContext(ctx, q, secret))
}

func (r *sqlRepository) scanOne(row *sql.Row) (*UpstreamKey, error) {
	var k UpstreamKey
	var status string
	var lastUsed sql.NullTime
	var name sql.NullString
	err := row.Scan(&k.ID, &k.Secret, &status, &k.CreatedAt, &lastUsed, &name, &k.TotalRequests)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	k.Status = Status(status)
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	if name.Valid {
		k.Name = name.String
	}
	return &k, nil
}

func (r *sqlRepository) ListAll(ctx context.Context) ([]UpstreamKey, error) {
	q := "SELECT id, secret, status, created_at, last_used_at, name, total_requests FROM upstream_keys ORDER BY created_at DESC"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &StorageError{Op: "list_all", Err: err}
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *sqlRepository) scanAll(rows *sql.Rows) ([]UpstreamKey, error) {
	var out []UpstreamKey
	for rows.Next() {
		var k UpstreamKey
		var status string
		var lastUsed sql.NullTime
		var name sql.NullString
		if err := rows.Scan(&k.ID, &k.Secret, &status, &k.CreatedAt, &lastUsed, &name, &k.TotalRequests); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		k.Status = Status(status)
		if lastUsed.Valid {
			t := lastUsed.Time
			k.LastUsedAt = &t
		}
		if name.Valid {
			k.Name = name.String
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan", Err: err}
	}
	return out, nil
}

// ListPaginated orders by last_used_at descending, nulls last.
func (r *sqlRepository) ListPaginated(ctx context.Context, page, pageSize int, statusFilter Status) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	where := ""
	args := []interface{}{}
	argc := 0
	if statusFilter != "" {
		argc++
		where = fmt.Sprintf(" WHERE status = %s", r.ph(argc))
		args = append(args, string(statusFilter))
	}

	countQ := "SELECT COUNT(*) FROM upstream_keys" + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return Page{}, &StorageError{Op: "list_paginated_count", Err: err}
	}

	orderBy := " ORDER BY (last_used_at IS NULL), last_used_at DESC"
	if r.d.isSQLite() {
		orderBy = " ORDER BY last_used_at IS NULL ASC, last_used_at DESC"
	}
	listQ := fmt.Sprintf(
		"SELECT id, secret, status, created_at, last_used_at, name, total_requests FROM upstream_keys%s%s LIMIT %s OFFSET %s",
		where, orderBy, r.ph(argc+1), r.ph(argc+2),
	)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, listQ, args...)
	if err != nil {
		return Page{}, &StorageError{Op: "list_paginated", Err: err}
	}
	defer rows.Close()
	items, err := r.scanAll(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total}, nil
}

// ListActive orders by last_used_at ascending, nulls first: coldest
// first, the basis of fair rotation.
func (r *sqlRepository) ListActive(ctx context.Context, limit int) ([]UpstreamKey, error) {
	if limit <= 0 {
		limit = 100
	}
	orderBy := " ORDER BY (last_used_at IS NOT NULL), last_used_at ASC"
	if r.d.isSQLite() {
		orderBy = " ORDER BY last_used_at IS NULL DESC, last_used_at ASC"
	}
	q := fmt.Sprintf(
		"SELECT id, secret, status, created_at, last_used_at, name, total_requests FROM upstream_keys WHERE status = %s%s LIMIT %s",
		r.ph(1), orderBy, r.ph(2),
	)
	rows, err := r.db.QueryContext(ctx, q, string(StatusActive), limit)
	if err != nil {
		return nil, &StorageError{Op: "list_active", Err: err}
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *sqlRepository) SetStatus(ctx context.Context, id string, status Status) (bool, error) {
	q := fmt.Sprintf("UPDATE upstream_keys SET status = %s WHERE id = %s", r.ph(1), r.ph(2))
	res, err := r.db.ExecContext(ctx, q, string(status), id)
	if err != nil {
		return false, &StorageError{Op: "set_status", Err: err}
	}
	return affected(res)
}

func (r *sqlRepository) SetName(ctx context.Context, id, name string) (bool, error) {
	q := fmt.Sprintf("UPDATE upstream_keys SET name = %s WHERE id = %s", r.ph(1), r.ph(2))
	res, err := r.db.ExecContext(ctx, q, nullableString(name), id)
	if err != nil {
		return false, &StorageError{Op: "set_name", Err: err}
	}
	return affected(res)
}

func (r *sqlRepository) TouchLastUsed(ctx context.Context, id string) (bool, error) {
	q := fmt.Sprintf("UPDATE upstream_keys SET last_used_at = %s WHERE id = %s", r.ph(1), r.ph(2))
	res, err := r.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return false, &StorageError{Op: "touch_last_used", Err: err}
	}
	return affected(res)
}

// IncrementTotalRequests performs the update in-place so the counter
// stays monotonic even under concurrent dispatches.
func (r *sqlRepository) IncrementTotalRequests(ctx context.Context, id string) (bool, error) {
	q := fmt.Sprintf("UPDATE upstream_keys SET total_requests = total_requests + 1 WHERE id = %s", r.ph(1))
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, &StorageError{Op: "increment_total_requests", Err: err}
	}
	return affected(res)
}

func (r *sqlRepository) Delete(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM upstream_keys WHERE id = %s", r.ph(1))
	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (r *sqlRepository) AppendLog(ctx context.Context, keyID, model, outcome string) error {
	q := fmt.Sprintf(
		"INSERT INTO request_logs (key_id, timestamp, model, outcome) VALUES (%s, %s, %s, %s)",
		r.ph(1), r.ph(2), r.ph(3), r.ph(4),
	)
	_, err := r.db.ExecContext(ctx, q, keyID, time.Now().UTC(), nullableString(model), nullableString(outcome))
	if err != nil {
		return &StorageError{Op: "append_log", Err: err}
	}
	return nil
}

func (r *sqlRepository) StatsSnapshot(ctx context.Context) (StatsSnapshot, error) {
	var s StatsSnapshot

	if err := r.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(total_requests), 0) FROM upstream_keys").Scan(&s.TotalAllTime); err != nil {
		return s, &StorageError{Op: "stats_total", Err: err}
	}

	counts := map[Status]*int64{StatusActive: &s.Active, StatusInactive: &s.Inactive, StatusRevoked: &s.Revoked}
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM upstream_keys GROUP BY status")
	if err != nil {
		return s, &StorageError{Op: "stats_counts", Err: err}
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return s, &StorageError{Op: "stats_counts_scan", Err: err}
		}
		if p, ok := counts[Status(status)]; ok {
			*p = n
		}
		s.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s, &StorageError{Op: "stats_counts", Err: err}
	}

	now := time.Now().UTC()
	windows := []struct {
		dst *int64
		win time.Duration
	}{
		{&s.Usage1m, time.Minute},
		{&s.Usage1h, time.Hour},
		{&s.Usage24h, 24 * time.Hour},
	}
	for _, w := range windows {
		q := fmt.Sprintf("SELECT COUNT(*) FROM request_logs WHERE timestamp >= %s", r.ph(1))
		if err := r.db.QueryRowContext(ctx, q, now.Add(-w.win)).Scan(w.dst); err != nil {
			return s, &StorageError{Op: "stats_window", Err: err}
		}
	}

	return s, nil
}

func (r *sqlRepository) PruneLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	q := fmt.Sprintf("DELETE FROM request_logs WHERE timestamp < %s", r.ph(1))
	res, err := r.db.ExecContext(ctx, q, olderThan)
	if err != nil {
		return 0, &StorageError{Op: "prune_logs", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *sqlRepository) Close() error { return r.db.Close() }

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "rows_affected", Err: err}
	}
	return n > 0, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}


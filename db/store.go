// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danielhkuo/agora/storage"
)

// Store implements storage.Store on PostgreSQL or SQLite. Both dialects
// accept $N placeholders and ON CONFLICT upserts, so the queries are shared.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects with the dialect's driver, creates the schema, and
// returns a ready store. The caller must import the driver.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection also keeps
		// in-memory databases alive
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if err := CreateSchema(conn, dialect); err != nil {
		conn.Close()
		return nil, err
	}

	return NewStore(conn), nil
}

// NewStore wraps a connection whose schema already exists
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) expiresAt(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value     sql.NullString
		num       sql.NullFloat64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, num, expires_at FROM kv WHERE key = $1`, key,
	).Scan(&value, &num, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= s.nowMillis() {
		s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1 AND expires_at <= $2`, key, s.nowMillis())
		return "", false, nil
	}
	if value.Valid {
		return value.String, true, nil
	}
	return strconv.FormatFloat(num.Float64, 'f', -1, 64), true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, num, expires_at) VALUES ($1, $2, NULL, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value, num = NULL, expires_at = excluded.expires_at
	`, key, value, s.expiresAt(ttl))
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// increment upserts a counter. An expired row restarts from delta; a text
// row is left alone and reported as ErrNotNumeric.
func (s *Store) increment(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	var num float64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv (key, value, num, expires_at) VALUES ($1, NULL, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			num = CASE
				WHEN kv.expires_at IS NOT NULL AND kv.expires_at <= $4 THEN excluded.num
				ELSE COALESCE(kv.num, 0) + excluded.num
			END,
			value = NULL,
			expires_at = CASE
				WHEN kv.expires_at IS NOT NULL AND kv.expires_at <= $4 THEN excluded.expires_at
				ELSE COALESCE(excluded.expires_at, kv.expires_at)
			END
		WHERE kv.value IS NULL OR (kv.expires_at IS NOT NULL AND kv.expires_at <= $4)
		RETURNING num
	`, key, delta, s.expiresAt(ttl), s.nowMillis()).Scan(&num)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", storage.ErrNotNumeric, key)
	}
	if err != nil {
		return 0, unavailable("increment", err)
	}
	return num, nil
}

func (s *Store) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := s.increment(ctx, key, float64(delta), ttl)
	return int64(n), err
}

func (s *Store) IncrementFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return s.increment(ctx, key, delta, 0)
}

func (s *Store) AddToSet(ctx context.Context, set, member string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO set_member (set_key, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		set, member)
	if err != nil {
		return false, unavailable("add to set", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("add to set", err)
	}
	return n == 1, nil
}

func (s *Store) RemoveFromSet(ctx context.Context, set, member string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM set_member WHERE set_key = $1 AND member = $2`, set, member)
	if err != nil {
		return unavailable("remove from set", err)
	}
	return nil
}

func (s *Store) SetSize(ctx context.Context, set string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM set_member WHERE set_key = $1`, set).Scan(&n)
	if err != nil {
		return 0, unavailable("set size", err)
	}
	return n, nil
}

func (s *Store) PushCapped(ctx context.Context, list, value string, maxLen int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("push", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_item (list_key, value) VALUES ($1, $2)`, list, value); err != nil {
		return unavailable("push", err)
	}

	if maxLen > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM list_item
			WHERE list_key = $1 AND id NOT IN (
				SELECT id FROM list_item WHERE list_key = $1 ORDER BY id DESC LIMIT $2
			)
		`, list, maxLen)
		if err != nil {
			return unavailable("trim", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("push", err)
	}
	return nil
}

func (s *Store) Range(ctx context.Context, list string, n int) ([]string, error) {
	query := `SELECT value FROM list_item WHERE list_key = $1 ORDER BY id DESC`
	args := []any{list}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("range", err)
	}
	defer rows.Close()

	items := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable("range", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("range", err)
	}
	return items, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

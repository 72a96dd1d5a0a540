// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour. Its value doubles as the
// database/sql driver name.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a storage backend name onto a dialect
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported SQL dialect %q", name)
}

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB, dialect Dialect) error {
	listID := "BIGSERIAL PRIMARY KEY"
	if dialect == DialectSQLite {
		listID = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	for _, stmt := range strings.Split(fmt.Sprintf(schema, listID), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// DropSchema removes every table. Used by tests against a shared server.
func DropSchema(db *sql.DB) error {
	for _, table := range []string{"list_item", "set_member", "kv"} {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}

const schema = `
-- Strings and counters. A row holds either value (text) or num (counter).
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT,
    num DOUBLE PRECISION,
    expires_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);

-- Set membership (voter identities, consumed sessions)
CREATE TABLE IF NOT EXISTS set_member (
    set_key TEXT NOT NULL,
    member TEXT NOT NULL,
    PRIMARY KEY (set_key, member)
);

-- Capped lists (audit log, reasoning archive, rate windows)
CREATE TABLE IF NOT EXISTS list_item (
    id %s,
    list_key TEXT NOT NULL,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_list_item_key ON list_item(list_key, id);
`

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db implements the storage contract on PostgreSQL or SQLite.

# Opening

	store, err := db.Open(ctx, db.DialectPostgres, databaseURL)

The dialect name is also the database/sql driver name, so the binary must
import github.com/lib/pq or modernc.org/sqlite. Open creates the schema.

# Schema Creation

CreateSchema is safe to call multiple times. It uses IF NOT EXISTS for all
tables and indexes.

# Tables

  - kv: strings and counters with an optional expiry (unix milliseconds)
  - set_member: one row per (set, member), primary key enforces uniqueness
  - list_item: append-only rows trimmed to a maximum length per list

AddToSet relies on the set_member primary key with ON CONFLICT DO NOTHING.
Exactly one concurrent caller sees a row inserted. Expired kv rows are
removed lazily on read.
*/
package db

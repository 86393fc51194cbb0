// Package sqlite implements storage.KV inside an embedded SQLite database.
//
// WHY A SQLITE KEY-VALUE STORE?
// Production runs on Redis, but a single-node deployment or a laptop should
// not need a Redis server to try the service. SQLite is embedded (a single
// file, or ":memory:") and modernc.org/sqlite is pure Go, so this backend
// needs nothing installed. The tests for the service layer also run on it.
//
// This is NOT a relational schema for accounts. It is two generic tables
// that emulate Redis strings and hashes, with an expires_at column for TTL:
//
//	kv_keys   (key PK, kind, value, expires_at)   → one row per key
//	kv_fields (key FK, field, value)              → hash fields, cascade-deleted
//
// LAZY EXPIRY:
// Nothing sweeps expired rows in the background. Every operation first
// purges the key it touches if its deadline has passed, and scans filter on
// expires_at. That gives the same observable behavior as Redis: an expired
// key reads as absent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	// The blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/identity-service/internal/storage"
)

var _ storage.KV = (*DB)(nil)

const (
	kindString = "string"
	kindHash   = "hash"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and implements storage.KV.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Option customizes a DB.
type Option func(*DB)

// WithClock replaces time.Now for expiry decisions. Tests use it to move
// time forward without sleeping.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/identity.db" → file-based store (persistent across restarts)
//   - ":memory:"         → in-memory store (tests; lost on Close)
//
// ONE CONNECTION:
// With ":memory:" every new pool connection would get its own empty
// database, and SQLite only allows one writer at a time anyway. Pinning the
// pool to a single connection keeps both cases correct and makes every
// transaction below serialize against the others.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight (file databases).
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Needed for ON DELETE CASCADE from kv_keys to kv_fields.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the two key-value tables. CREATE ... IF NOT EXISTS keeps
// it safe to run on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv_keys (
			key        TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			value      TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_kv_keys_expires_at ON kv_keys(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating kv_keys table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv_fields (
			key   TEXT NOT NULL REFERENCES kv_keys(key) ON DELETE CASCADE,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (key, field)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating kv_fields table: %w", err)
	}

	return nil
}

// nowMillis is the clock in unix milliseconds; expires_at uses the same unit.
func (db *DB) nowMillis() int64 {
	return db.now().UnixMilli()
}

// deadline converts a TTL into an expires_at value. 0 means "no change".
func (db *DB) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return db.now().Add(ttl).UnixMilli()
}

// purge deletes key if it has expired. Fields go with it via the cascade.
func (db *DB) purge(ctx context.Context, q querier, key string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM kv_keys WHERE key = ? AND expires_at != 0 AND expires_at <= ?`,
		key, db.nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: purging %s: %w", key, err)
	}
	return nil
}

// inTx runs fn inside a transaction and commits only if fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

func (db *DB) Get(ctx context.Context, key string) (string, error) {
	if err := db.purge(ctx, db.conn, key); err != nil {
		return "", err
	}
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM kv_keys WHERE key = ? AND kind = ?`, key, kindString,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: getting %s: %w", key, err)
	}
	return value, nil
}

func (db *DB) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := db.purge(ctx, tx, key); err != nil {
			return err
		}
		// A key that used to be a hash loses its fields, as in Redis.
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_fields WHERE key = ?`, key); err != nil {
			return fmt.Errorf("sqlite: clearing fields of %s: %w", key, err)
		}
		if err := db.upsertKey(ctx, tx, key, kindString, value, ttl); err != nil {
			return err
		}
		return nil
	})
}

// upsertKey inserts or updates the kv_keys row. With ttl == 0 an existing
// deadline is preserved.
func (db *DB) upsertKey(ctx context.Context, q querier, key, kind, value string, ttl time.Duration) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO kv_keys (key, kind, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			value = excluded.value,
			expires_at = CASE WHEN excluded.expires_at > 0 THEN excluded.expires_at ELSE kv_keys.expires_at END`,
		key, kind, value, db.deadline(ttl),
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing key %s: %w", key, err)
	}
	return nil
}

func (db *DB) HGet(ctx context.Context, key, field string) (string, error) {
	if err := db.purge(ctx, db.conn, key); err != nil {
		return "", err
	}
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM kv_fields WHERE key = ? AND field = ?`, key, field,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: getting %s.%s: %w", key, field, err)
	}
	return value, nil
}

func (db *DB) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := db.purge(ctx, db.conn, key); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT field, value FROM kv_fields WHERE key = ?`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading hash %s: %w", key, err)
	}
	// rows MUST be closed or the single pooled connection stays busy.
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("sqlite: scanning hash %s: %w", key, err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating hash %s: %w", key, err)
	}
	return out, nil
}

func (db *DB) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if err := db.purge(ctx, tx, key); err != nil {
			return err
		}
		if err := db.upsertKey(ctx, tx, key, kindHash, "", ttl); err != nil {
			return err
		}
		return db.writeFields(ctx, tx, key, fields)
	})
}

// HCreate relies on the kv_keys primary key: INSERT ... ON CONFLICT DO
// NOTHING affects zero rows when another writer got there first, and the
// whole thing is one transaction, so fields are never half-written.
func (db *DB) HCreate(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	if len(fields) == 0 {
		return false, fmt.Errorf("sqlite: HCreate %s: no fields", key)
	}
	created := false
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if err := db.purge(ctx, tx, key); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO kv_keys (key, kind, value, expires_at) VALUES (?, ?, '', ?)
			 ON CONFLICT(key) DO NOTHING`,
			key, kindHash, db.deadline(ttl),
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: creating %s: %w", key, err)
		}
		if n == 0 {
			return nil
		}
		created = true
		return db.writeFields(ctx, tx, key, fields)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (db *DB) writeFields(ctx context.Context, tx *sql.Tx, key string, fields map[string]string) error {
	for field, value := range fields {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv_fields (key, field, value) VALUES (?, ?, ?)
			 ON CONFLICT(key, field) DO UPDATE SET value = excluded.value`,
			key, field, value,
		)
		if err != nil {
			return fmt.Errorf("sqlite: writing %s.%s: %w", key, field, err)
		}
	}
	return nil
}

// Expire sets a new deadline. A non-positive ttl deletes the key, matching
// Redis EXPIRE with a negative value.
func (db *DB) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return db.Del(ctx, key)
	}
	if err := db.purge(ctx, db.conn, key); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE kv_keys SET expires_at = ? WHERE key = ?`, db.deadline(ttl), key,
	)
	if err != nil {
		return fmt.Errorf("sqlite: expiring %s: %w", key, err)
	}
	return nil
}

func (db *DB) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_keys WHERE key = ?`, key); err != nil {
				return fmt.Errorf("sqlite: deleting %s: %w", key, err)
			}
		}
		return nil
	})
}

// ScanPrefix compares with substr instead of LIKE so that '%' and '_' in a
// prefix (both legal in email addresses) are taken literally.
func (db *DB) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key FROM kv_keys
		 WHERE substr(key, 1, ?) = ? AND (expires_at = 0 OR expires_at > ?)`,
		utf8.RuneCountInString(prefix), prefix, db.nowMillis(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning %s*: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: scanning %s*: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scanning %s*: %w", prefix, err)
	}
	return keys, nil
}

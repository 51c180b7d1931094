// Package postgres provides a kv.Backend on a shared Postgres server.
//
// All databases live in one pair of tables, keyed by a database column, so a
// single DSN serves every adapter. The connection is opened on the first Open
// and reused until Close.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/roach88/normstore/internal/kv"
)

var _ kv.Backend = (*Backend)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/normstore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv_stores (
		db_name TEXT NOT NULL,
		name    TEXT NOT NULL,
		PRIMARY KEY (db_name, name)
	)`,
	`CREATE TABLE IF NOT EXISTS kv_records (
		db_name TEXT NOT NULL,
		store   TEXT NOT NULL,
		key     TEXT NOT NULL,
		value   BYTEA NOT NULL,
		PRIMARY KEY (db_name, store, key)
	)`,
}

// Backend stores records in Postgres.
//
// Thread-safety: safe for concurrent use.
type Backend struct {
	dsn string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New creates a backend for dsn (falls back to defaultDSN). No connection is
// made until Open.
func New(dsn string) *Backend {
	if dsn == "" {
		dsn = defaultDSN
	}
	return &Backend{dsn: dsn}
}

// Open connects on first use, ensures the schema, and registers store.
func (b *Backend) Open(ctx context.Context, database, store string) (kv.Handle, error) {
	if err := kv.ValidateNames(database, store); err != nil {
		return nil, err
	}
	database = kv.CanonicalKey(database)
	store = kv.CanonicalKey(store)

	db, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO kv_stores (db_name, name) VALUES ($1, $2)
		ON CONFLICT (db_name, name) DO NOTHING
	`, database, store); err != nil {
		return nil, fmt.Errorf("create store %q: %w", store, err)
	}
	return &handle{db: db, database: database}, nil
}

func (b *Backend) connect(ctx context.Context) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("postgres: backend closed")
	}
	if b.db != nil {
		return b.db, nil
	}

	openMu.Lock()
	db, err := sqlOpen(defaultDriver, b.dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	b.db = db
	return db, nil
}

// Close closes the connection pool. Subsequent Opens fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

type handle struct {
	db       *sql.DB
	database string
}

func (h *handle) Get(ctx context.Context, store, key string) ([]byte, error) {
	var value []byte
	err := h.db.QueryRowContext(ctx, `
		SELECT value FROM kv_records
		WHERE db_name = $1 AND store = $2 AND key = $3
	`, h.database, kv.CanonicalKey(store), kv.CanonicalKey(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", store, key, err)
	}
	return value, nil
}

func (h *handle) Put(ctx context.Context, store, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO kv_records (db_name, store, key, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (db_name, store, key) DO UPDATE SET value = EXCLUDED.value
	`, h.database, kv.CanonicalKey(store), kv.CanonicalKey(key), value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", store, key, err)
	}
	return nil
}

func (h *handle) Delete(ctx context.Context, store, key string) error {
	_, err := h.db.ExecContext(ctx, `
		DELETE FROM kv_records
		WHERE db_name = $1 AND store = $2 AND key = $3
	`, h.database, kv.CanonicalKey(store), kv.CanonicalKey(key))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", store, key, err)
	}
	return nil
}

// Iterate reads the whole store, then visits it in byte order of keys.
// Ordering is done client-side so it does not depend on the server collation.
func (h *handle) Iterate(ctx context.Context, store string, fn func(kv.Entry) error) error {
	rows, err := h.db.QueryContext(ctx, `
		SELECT key, value FROM kv_records
		WHERE db_name = $1 AND store = $2
	`, h.database, kv.CanonicalKey(store))
	if err != nil {
		return fmt.Errorf("query %s: %w", store, err)
	}
	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan %s: %w", store, err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("iterate %s: %w", store, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

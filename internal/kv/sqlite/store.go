package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/normstore/internal/kv"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - stores and records tables
const currentSchemaVersion = 1

// Compile-time check that Backend satisfies kv.Backend.
var _ kv.Backend = (*Backend)(nil)

// Backend opens SQLite database files under a directory.
//
// Thread-safety: safe for concurrent use.
type Backend struct {
	dir string

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	closed bool
}

// New creates a backend storing database files in dir.
// The directory is created on first Open if it does not exist.
func New(dir string) *Backend {
	return &Backend{
		dir: dir,
		dbs: make(map[string]*sql.DB),
	}
}

// Path returns the file used for a database name.
func (b *Backend) Path(database string) string {
	return filepath.Join(b.dir, database+".db")
}

// Open returns a handle on database, creating the file and the store as
// needed.
func (b *Backend) Open(ctx context.Context, database, store string) (kv.Handle, error) {
	if err := kv.ValidateNames(database, store); err != nil {
		return nil, err
	}
	database = kv.CanonicalKey(database)
	store = kv.CanonicalKey(store)

	db, err := b.database(database)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO stores (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, store); err != nil {
		return nil, fmt.Errorf("create store %q: %w", store, err)
	}

	return &handle{db: db}, nil
}

// database returns the cached connection for a database, opening it on first
// use.
func (b *Backend) database(name string) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("open %q: backend closed", name)
	}
	if db, ok := b.dbs[name]; ok {
		return db, nil
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := openDB(b.Path(name))
	if err != nil {
		return nil, err
	}
	b.dbs[name] = db
	return db, nil
}

// Close closes every cached connection. Subsequent Opens fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	var errs []error
	for name, db := range b.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		delete(b.dbs, name)
	}
	return errors.Join(errs...)
}

// openDB creates or opens a SQLite database at path with the required
// pragmas and schema applied.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// handle implements kv.Handle over one database file.
type handle struct {
	db *sql.DB
}

func (h *handle) Get(ctx context.Context, store, key string) ([]byte, error) {
	var value []byte
	err := h.db.QueryRowContext(ctx, `
		SELECT value FROM records
		WHERE store = ? AND key = ?
	`, kv.CanonicalKey(store), kv.CanonicalKey(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", store, key, err)
	}
	return value, nil
}

// Put writes value under key, replacing any previous value (last write wins).
func (h *handle) Put(ctx context.Context, store, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO records (store, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET value = excluded.value
	`, kv.CanonicalKey(store), kv.CanonicalKey(key), value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", store, key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (h *handle) Delete(ctx context.Context, store, key string) error {
	_, err := h.db.ExecContext(ctx, `
		DELETE FROM records
		WHERE store = ? AND key = ?
	`, kv.CanonicalKey(store), kv.CanonicalKey(key))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", store, key, err)
	}
	return nil
}

// Iterate visits every record of store in key order.
// Stops at and returns the first error returned by fn.
func (h *handle) Iterate(ctx context.Context, store string, fn func(kv.Entry) error) error {
	entries, err := h.readAll(ctx, kv.CanonicalKey(store))
	if err != nil {
		return err
	}
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

func (h *handle) readAll(ctx context.Context, store string) ([]kv.Entry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT key, value FROM records
		WHERE store = ?
		ORDER BY key COLLATE BINARY ASC
	`, store)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", store, err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", store, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", store, err)
	}
	return entries, nil
}

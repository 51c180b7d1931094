// Package kv defines the asynchronous key/value collaborator that persistence
// adapters mirror state into.
//
// Storage is addressed as database -> store -> key. A Backend opens databases;
// opening is idempotent per database name and creates the named store when it
// does not exist yet. Values are opaque bytes: encoding is the caller's
// concern.
//
// Implementations live in subpackages:
//   - kv/sqlite: local SQLite files, one per database (default)
//   - kv/memory: in-process maps
//   - kv/postgres: a shared Postgres server
//   - kv/s3: S3-compatible object storage
package kv

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned by Handle.Get when no record exists for the key.
var ErrNotFound = errors.New("kv: record not found")

// Entry is one record visited by Handle.Iterate.
type Entry struct {
	Key   string
	Value []byte
}

// Backend opens databases.
type Backend interface {
	// Open returns a handle on database, creating store if absent.
	// Calling Open again with the same database reuses the underlying
	// connection.
	Open(ctx context.Context, database, store string) (Handle, error)

	// Close releases every connection opened by the backend.
	Close() error
}

// Handle reads and writes records of an opened database.
//
// Iterate visits a consistent snapshot of the store: fn may call Delete (or
// Put) on the same handle without disturbing the iteration.
type Handle interface {
	Get(ctx context.Context, store, key string) ([]byte, error)
	Put(ctx context.Context, store, key string, value []byte) error
	Delete(ctx context.Context, store, key string) error
	Iterate(ctx context.Context, store string, fn func(Entry) error) error
}

// CanonicalKey returns the NFC normalized form of a key or name so that
// visually identical keys address the same record.
func CanonicalKey(s string) string {
	return norm.NFC.String(s)
}

// ValidateNames checks that database and store names are usable.
func ValidateNames(database, store string) error {
	if database == "" {
		return fmt.Errorf("kv: database name required")
	}
	if store == "" {
		return fmt.Errorf("kv: store name required")
	}
	return nil
}

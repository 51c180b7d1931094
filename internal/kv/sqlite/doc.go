// Package sqlite provides the SQLite-backed kv.Backend.
//
// Each database name maps to one file, <dir>/<database>.db. Stores are rows of
// the stores table; records are rows of the records table keyed by
// (store, key). Opening a database is idempotent: the *sql.DB is cached per
// database name for the backend's lifetime.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: records must belong to a created store
//
// A single connection is kept open per file, so Iterate buffers a store's
// rows before visiting them; the visitor can then write through the same
// handle without deadlocking on the connection.
package sqlite

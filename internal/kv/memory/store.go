// Package memory provides an in-process kv.Backend. Nothing survives the
// process; it is meant for tests and for running without durability.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/normstore/internal/kv"
)

var _ kv.Backend = (*Backend)(nil)

// Backend keeps every database in maps guarded by one mutex.
type Backend struct {
	mu     sync.RWMutex
	dbs    map[string]map[string]map[string][]byte // database -> store -> key -> value
	closed bool
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{dbs: make(map[string]map[string]map[string][]byte)}
}

// Open returns a handle on database, creating it and store if absent.
func (b *Backend) Open(ctx context.Context, database, store string) (kv.Handle, error) {
	if err := kv.ValidateNames(database, store); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	database = kv.CanonicalKey(database)
	store = kv.CanonicalKey(store)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("open %q: backend closed", database)
	}
	db, ok := b.dbs[database]
	if !ok {
		db = make(map[string]map[string][]byte)
		b.dbs[database] = db
	}
	if _, ok := db[store]; !ok {
		db[store] = make(map[string][]byte)
	}
	return &handle{b: b, database: database}, nil
}

// Close drops every database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.dbs = make(map[string]map[string]map[string][]byte)
	return nil
}

// Stores lists the stores created in database, sorted.
func (b *Backend) Stores(database string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var names []string
	for name := range b.dbs[kv.CanonicalKey(database)] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type handle struct {
	b        *Backend
	database string
}

// records returns the map for store. Callers hold b.mu.
func (h *handle) records(store string) (map[string][]byte, error) {
	if h.b.closed {
		return nil, fmt.Errorf("%s/%s: backend closed", h.database, store)
	}
	recs, ok := h.b.dbs[h.database][kv.CanonicalKey(store)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: store does not exist", h.database, store)
	}
	return recs, nil
}

func (h *handle) Get(ctx context.Context, store, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.b.mu.RLock()
	defer h.b.mu.RUnlock()
	recs, err := h.records(store)
	if err != nil {
		return nil, err
	}
	v, ok := recs[kv.CanonicalKey(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (h *handle) Put(ctx context.Context, store, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	recs, err := h.records(store)
	if err != nil {
		return err
	}
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	recs[kv.CanonicalKey(key)] = v
	return nil
}

func (h *handle) Delete(ctx context.Context, store, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	recs, err := h.records(store)
	if err != nil {
		return err
	}
	delete(recs, kv.CanonicalKey(key))
	return nil
}

// Iterate visits a snapshot of store in key order.
func (h *handle) Iterate(ctx context.Context, store string, fn func(kv.Entry) error) error {
	h.b.mu.RLock()
	recs, err := h.records(store)
	if err != nil {
		h.b.mu.RUnlock()
		return err
	}
	entries := make([]kv.Entry, 0, len(recs))
	for k, v := range recs {
		entries = append(entries, kv.Entry{Key: k, Value: bytes.Clone(v)})
	}
	h.b.mu.RUnlock()

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

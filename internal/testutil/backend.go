// Package testutil provides kv test doubles and a shared backend conformance
// suite.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/normstore/internal/kv"
)

// FaultyBackend wraps a kv.Backend with failure injection and call recording.
//
// Hooks are read on every call, so tests may set them before handing the
// backend to the code under test. A nil hook means "pass through".
//
// Thread-safety: safe for concurrent use; hook functions must be too.
type FaultyBackend struct {
	Inner kv.Backend

	// OpenErr makes every Open fail.
	OpenErr error
	// GetErr, PutErr and DeleteErr fail individual operations by key.
	GetErr    func(key string) error
	PutErr    func(key string, value []byte) error
	DeleteErr func(key string) error
	// BeforePut runs before each Put reaches Inner. Tests use it to stall
	// writes.
	BeforePut func(key string, value []byte)

	mu      sync.Mutex
	opens   int
	puts    []kv.Entry
	deletes []string
}

// NewFaultyBackend wraps inner.
func NewFaultyBackend(inner kv.Backend) *FaultyBackend {
	return &FaultyBackend{Inner: inner}
}

// Open counts the call and delegates unless OpenErr is set.
func (f *FaultyBackend) Open(ctx context.Context, database, store string) (kv.Handle, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()

	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	h, err := f.Inner.Open(ctx, database, store)
	if err != nil {
		return nil, err
	}
	return &faultyHandle{f: f, inner: h}, nil
}

func (f *FaultyBackend) Close() error {
	return f.Inner.Close()
}

// Opens returns how many times Open was called.
func (f *FaultyBackend) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Puts returns every successful Put in call order.
func (f *FaultyBackend) Puts() []kv.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kv.Entry, len(f.puts))
	copy(out, f.puts)
	return out
}

// Deletes returns every successful Delete key in call order.
func (f *FaultyBackend) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletes))
	copy(out, f.deletes)
	return out
}

type faultyHandle struct {
	f     *FaultyBackend
	inner kv.Handle
}

func (h *faultyHandle) Get(ctx context.Context, store, key string) ([]byte, error) {
	if h.f.GetErr != nil {
		if err := h.f.GetErr(key); err != nil {
			return nil, err
		}
	}
	return h.inner.Get(ctx, store, key)
}

func (h *faultyHandle) Put(ctx context.Context, store, key string, value []byte) error {
	if h.f.BeforePut != nil {
		h.f.BeforePut(key, value)
	}
	if h.f.PutErr != nil {
		if err := h.f.PutErr(key, value); err != nil {
			return err
		}
	}
	if err := h.inner.Put(ctx, store, key, value); err != nil {
		return err
	}
	h.f.mu.Lock()
	h.f.puts = append(h.f.puts, kv.Entry{Key: key, Value: append([]byte(nil), value...)})
	h.f.mu.Unlock()
	return nil
}

func (h *faultyHandle) Delete(ctx context.Context, store, key string) error {
	if h.f.DeleteErr != nil {
		if err := h.f.DeleteErr(key); err != nil {
			return err
		}
	}
	if err := h.inner.Delete(ctx, store, key); err != nil {
		return err
	}
	h.f.mu.Lock()
	h.f.deletes = append(h.f.deletes, key)
	h.f.mu.Unlock()
	return nil
}

func (h *faultyHandle) Iterate(ctx context.Context, store string, fn func(kv.Entry) error) error {
	return h.inner.Iterate(ctx, store, fn)
}

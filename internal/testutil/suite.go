package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normstore/internal/kv"
)

// RunBackendSuite checks the kv.Backend contract against fresh backends
// returned by newBackend. Every backend package runs it from its own tests.
func RunBackendSuite(t *testing.T, newBackend func(t *testing.T) kv.Backend) {
	t.Helper()

	open := func(t *testing.T, b kv.Backend, database, store string) kv.Handle {
		t.Helper()
		h, err := b.Open(context.Background(), database, store)
		require.NoError(t, err)
		return h
	}

	t.Run("get missing key", func(t *testing.T) {
		h := open(t, newBackend(t), "db", "s")
		_, err := h.Get(context.Background(), "s", "nope")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")

		require.NoError(t, h.Put(ctx, "s", "k", []byte(`{"a":1}`)))
		got, err := h.Get(ctx, "s", "k")
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("last write wins", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")

		require.NoError(t, h.Put(ctx, "s", "k", []byte("one")))
		require.NoError(t, h.Put(ctx, "s", "k", []byte("two")))
		got, err := h.Get(ctx, "s", "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("open is idempotent and keeps data", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		h1 := open(t, b, "db", "s")
		require.NoError(t, h1.Put(ctx, "s", "k", []byte("v")))

		h2 := open(t, b, "db", "s")
		got, err := h2.Get(ctx, "s", "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
	})

	t.Run("stores are isolated", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		ha := open(t, b, "db", "a")
		hb := open(t, b, "db", "b")

		require.NoError(t, ha.Put(ctx, "a", "k", []byte("in-a")))
		_, err := hb.Get(ctx, "b", "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("databases are isolated", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		h1 := open(t, b, "one", "s")
		h2 := open(t, b, "two", "s")

		require.NoError(t, h1.Put(ctx, "s", "k", []byte("v")))
		_, err := h2.Get(ctx, "s", "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")

		require.NoError(t, h.Put(ctx, "s", "k", []byte("v")))
		require.NoError(t, h.Delete(ctx, "s", "k"))
		_, err := h.Get(ctx, "s", "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		assert.NoError(t, h.Delete(ctx, "s", "k"), "deleting a missing key is not an error")
	})

	t.Run("iterate in key order", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")
		for _, k := range []string{"b", "c", "a"} {
			require.NoError(t, h.Put(ctx, "s", k, []byte("v-"+k)))
		}

		var keys []string
		require.NoError(t, h.Iterate(ctx, "s", func(e kv.Entry) error {
			keys = append(keys, e.Key)
			assert.Equal(t, "v-"+e.Key, string(e.Value))
			return nil
		}))
		assert.Equal(t, []string{"a", "b", "c"}, keys)
	})

	t.Run("delete during iterate", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")
		for _, k := range []string{"keep", "drop-1", "drop-2"} {
			require.NoError(t, h.Put(ctx, "s", k, []byte("v")))
		}

		visited := 0
		require.NoError(t, h.Iterate(ctx, "s", func(e kv.Entry) error {
			visited++
			if e.Key != "keep" {
				return h.Delete(ctx, "s", e.Key)
			}
			return nil
		}))
		assert.Equal(t, 3, visited)

		var left []string
		require.NoError(t, h.Iterate(ctx, "s", func(e kv.Entry) error {
			left = append(left, e.Key)
			return nil
		}))
		assert.Equal(t, []string{"keep"}, left)
	})

	t.Run("iterate stops on error", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")
		require.NoError(t, h.Put(ctx, "s", "a", []byte("1")))
		require.NoError(t, h.Put(ctx, "s", "b", []byte("2")))

		stop := errors.New("stop")
		visited := 0
		err := h.Iterate(ctx, "s", func(kv.Entry) error {
			visited++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, visited)
	})

	t.Run("iterate empty store", func(t *testing.T) {
		h := open(t, newBackend(t), "db", "s")
		called := false
		require.NoError(t, h.Iterate(context.Background(), "s", func(kv.Entry) error {
			called = true
			return nil
		}))
		assert.False(t, called)
	})

	t.Run("keys are NFC normalized", func(t *testing.T) {
		ctx := context.Background()
		h := open(t, newBackend(t), "db", "s")

		require.NoError(t, h.Put(ctx, "s", "cafe\u0301", []byte("v")))
		got, err := h.Get(ctx, "s", "caf\u00e9")
		require.NoError(t, err)
		assert.Equal(t, "v", string(got))
	})

	t.Run("empty names rejected", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Open(context.Background(), "", "s")
		assert.Error(t, err)
		_, err = b.Open(context.Background(), "db", "")
		assert.Error(t, err)
	})
}

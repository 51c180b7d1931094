// Package persist mirrors the value of an observable cell into one record of
// a kv store and restores it on startup.
//
// Attach runs the initial load: an optional cleanup pass over the store, then
// a read of the configured key whose value overrides the cell's default.
// After that, every change of the cell is queued and written by a single
// worker, so writes for the key never overlap. Each change carries the cell
// version it was committed at and the worker skips changes older than one it
// has already handled, so the stored value is always the last one set, even
// when several goroutines set the cell at once.
//
// Persistence failures never reach the code that changed the cell. They are
// logged, counted in Metrics, and otherwise ignored: the in-memory value stays
// authoritative.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/normstore/internal/cell"
	"github.com/roach88/normstore/internal/kv"
)

// Options configures an Adapter.
type Options[V any] struct {
	DatabaseName string
	StoreName    string
	// Key of the mirrored record. Defaults to the cell's key.
	Key string

	// Cleanup, when set, runs once during Attach over every record in the
	// store; records for which it returns true are deleted.
	Cleanup func(value []byte, key string) bool

	// Timeout bounds each backend call. Zero means no timeout.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
	// Codec defaults to JSON.
	Codec Codec[V]
}

// Adapter keeps one cell mirrored into a kv record.
//
// Thread-safety: all methods are safe for concurrent use.
type Adapter[V any] struct {
	cell    *cell.Cell[V]
	backend kv.Backend
	opts    Options[V]
	codec   Codec[V]
	log     *slog.Logger
	metrics *Metrics

	// The handle (or the open error) is cached for the adapter's lifetime.
	openOnce sync.Once
	handle   kv.Handle
	openErr  error

	queue *writeQueue[V]
	clock clock

	mu          sync.Mutex
	attached    bool
	closed      bool
	unsubscribe func()
	done        chan struct{}
}

// New creates an adapter for c. Nothing touches the backend until Attach.
func New[V any](c *cell.Cell[V], backend kv.Backend, opts Options[V]) (*Adapter[V], error) {
	if c == nil {
		return nil, fmt.Errorf("persist: cell required")
	}
	if backend == nil {
		return nil, fmt.Errorf("persist: backend required")
	}
	if err := kv.ValidateNames(opts.DatabaseName, opts.StoreName); err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	if opts.Key == "" {
		opts.Key = string(c.Key())
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("persist: key required")
	}

	codec := opts.Codec
	if codec == nil {
		codec = JSON[V]{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter[V]{
		cell:    c,
		backend: backend,
		opts:    opts,
		codec:   codec,
		log: logger.With(
			"database", opts.DatabaseName,
			"store", opts.StoreName,
			"key", opts.Key,
		),
		metrics: opts.Metrics,
		queue:   newWriteQueue[V](),
	}, nil
}

// Key returns the key of the mirrored record.
func (a *Adapter[V]) Key() string {
	return a.opts.Key
}

// Attach performs the initial load and starts mirroring changes.
//
// Backend failures are logged, not returned: the cell keeps its default and
// later writes are still attempted. Attach returns an error only when called
// twice or after Close. It blocks until the initial load is done; run it in a
// goroutine to let readers observe the default meanwhile.
func (a *Adapter[V]) Attach(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("persist %s: adapter closed", a.opts.Key)
	}
	if a.attached {
		a.mu.Unlock()
		return fmt.Errorf("persist %s: already attached", a.opts.Key)
	}
	a.attached = true
	a.mu.Unlock()

	if a.opts.Cleanup != nil {
		if _, err := a.cleanup(ctx, a.opts.Cleanup); err != nil {
			a.log.Warn("cleanup pass failed", "error", err)
		}
	}
	a.load(ctx)

	// Writes outlive the attach call; Close stops them.
	workerCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(workerCtx)
	}()

	unsubscribe := a.cell.SubscribeVersion(a.enqueue)

	a.mu.Lock()
	if a.closed {
		// Close ran while loading and has already closed the queue.
		a.mu.Unlock()
		unsubscribe()
		<-done
		return fmt.Errorf("persist %s: adapter closed", a.opts.Key)
	}
	a.unsubscribe = unsubscribe
	a.done = done
	a.mu.Unlock()
	return nil
}

// Purge runs a cleanup pass with pred and returns the deleted keys in
// iteration order. Per-record delete failures are logged and skipped.
func (a *Adapter[V]) Purge(ctx context.Context, pred func(value []byte, key string) bool) ([]string, error) {
	if pred == nil {
		return nil, fmt.Errorf("persist %s: purge predicate required", a.opts.Key)
	}
	return a.cleanup(ctx, pred)
}

// Flush waits until every change observed before the call has been written
// (or has failed). It returns early with ctx's error.
func (a *Adapter[V]) Flush(ctx context.Context) error {
	a.mu.Lock()
	running := a.done != nil
	a.mu.Unlock()
	if !running {
		return nil
	}

	barrier := make(chan struct{})
	if !a.queue.Enqueue(job[V]{barrier: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops mirroring. Queued writes are drained before the worker exits;
// Close returns early with ctx's error if that takes too long. The backend
// is owned by the caller and left open.
func (a *Adapter[V]) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	unsubscribe, done := a.unsubscribe, a.done
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	a.queue.Close()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// open returns the cached handle, opening the backend on first use.
func (a *Adapter[V]) open(ctx context.Context) (kv.Handle, error) {
	a.openOnce.Do(func() {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		a.handle, a.openErr = a.backend.Open(ctx, a.opts.DatabaseName, a.opts.StoreName)
		if a.openErr != nil {
			a.log.Error("open backing store failed", "error", a.openErr)
		}
	})
	return a.handle, a.openErr
}

func (a *Adapter[V]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.Timeout > 0 {
		return context.WithTimeout(ctx, a.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (a *Adapter[V]) cleanup(ctx context.Context, pred func(value []byte, key string) bool) ([]string, error) {
	h, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var deleted []string
	err = h.Iterate(ctx, a.opts.StoreName, func(e kv.Entry) error {
		if !pred(e.Value, e.Key) {
			a.metrics.cleanup(a.opts.StoreName, resultSkipped)
			return nil
		}
		if err := h.Delete(ctx, a.opts.StoreName, e.Key); err != nil {
			a.log.Warn("cleanup delete failed", "record", e.Key, "error", err)
			a.metrics.cleanup(a.opts.StoreName, resultError)
			return nil
		}
		a.log.Debug("cleanup deleted record", "record", e.Key)
		a.metrics.cleanup(a.opts.StoreName, resultDeleted)
		deleted = append(deleted, e.Key)
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("iterate %s: %w", a.opts.StoreName, err)
	}
	return deleted, nil
}

// load reads the persisted value and installs it in the cell.
func (a *Adapter[V]) load(ctx context.Context) {
	h, err := a.open(ctx)
	if err != nil {
		a.metrics.load(a.opts.StoreName, resultError)
		a.log.Warn("initial load skipped: backing store unavailable", "error", err)
		return
	}

	rctx, cancel := a.withTimeout(ctx)
	data, err := h.Get(rctx, a.opts.StoreName, a.opts.Key)
	cancel()
	switch {
	case errors.Is(err, kv.ErrNotFound):
		a.metrics.load(a.opts.StoreName, resultMiss)
		a.log.Debug("no persisted value, keeping default")
		return
	case err != nil:
		a.metrics.load(a.opts.StoreName, resultError)
		a.log.Warn("initial load failed", "error", err)
		return
	}

	v, err := a.codec.Decode(data)
	if err != nil {
		a.metrics.load(a.opts.StoreName, resultError)
		a.log.Warn("initial load failed", "error", err)
		return
	}

	a.metrics.load(a.opts.StoreName, resultHit)
	if a.cell.OverrideDefaultOnce(v) {
		a.log.Debug("restored persisted value")
		return
	}
	// The default was already read; fall back to an ordinary change so
	// readers see the restored value. Not yet subscribed, so no write-back.
	a.log.Debug("cell already observed, restoring with set")
	a.cell.Set(v)
}

func (a *Adapter[V]) enqueue(v V, seq uint64) {
	if !a.queue.Enqueue(job[V]{seq: seq, value: v}) {
		a.log.Debug("change after close not persisted", "seq", seq)
	}
}

// run drains the queue until it is closed and empty.
func (a *Adapter[V]) run(ctx context.Context) {
	for {
		if j, ok := a.queue.TryDequeue(); ok {
			a.process(ctx, j)
			continue
		}
		if a.queue.Drained() {
			a.log.Debug("write worker stopped", "last_seq", a.clock.current())
			return
		}
		<-a.queue.Wait()
	}
}

func (a *Adapter[V]) process(ctx context.Context, j job[V]) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}
	if !a.clock.advance(j.seq) {
		a.log.Debug("stale change skipped", "seq", j.seq, "latest_seq", a.clock.current())
		return
	}
	a.write(ctx, j.seq, j.value)
}

func (a *Adapter[V]) write(ctx context.Context, seq uint64, v V) {
	data, err := a.codec.Encode(v)
	if err != nil {
		a.metrics.write(a.opts.StoreName, resultError, 0)
		a.log.Error("write failed", "seq", seq, "error", err)
		return
	}
	h, err := a.open(ctx)
	if err != nil {
		a.metrics.write(a.opts.StoreName, resultError, 0)
		a.log.Error("write failed: backing store unavailable", "seq", seq, "error", err)
		return
	}

	wctx, cancel := a.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	if err := h.Put(wctx, a.opts.StoreName, a.opts.Key, data); err != nil {
		a.metrics.write(a.opts.StoreName, resultError, 0)
		a.log.Error("write failed", "seq", seq, "error", err)
		return
	}
	a.metrics.write(a.opts.StoreName, resultOK, time.Since(start))
	a.log.Debug("value persisted", "seq", seq, "bytes", len(data))
}

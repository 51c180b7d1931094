// Package cell provides the observable value holder that persistence adapters
// attach to.
//
// A Cell holds one value, identified by an explicit Key, and notifies
// subscribers synchronously after every Set. The key is the identity shared by
// the cell and whatever mirrors it; there is no global registry.
package cell

import "sync"

// Key identifies a cell and the persisted record that mirrors it.
type Key string

// Option configures a Cell.
type Option[V any] func(*Cell[V])

// WithEqual installs an equality check: Set skips storing and notifying when
// the new value is equal to the current one. Use it with the entity algebra's
// no-op contract (pointer equality) to avoid redundant persistence writes.
func WithEqual[V any](eq func(a, b V) bool) Option[V] {
	return func(c *Cell[V]) {
		c.equal = eq
	}
}

// Cell is an observable value.
//
// Thread-safety: all methods are safe for concurrent use. Listeners run on the
// goroutine that called Set, after the cell's lock is released, in
// subscription order. Listeners of concurrent Sets may therefore observe the
// values out of commit order; SubscribeVersion exposes the commit order.
type Cell[V any] struct {
	key   Key
	equal func(a, b V) bool

	mu         sync.Mutex
	value      V
	observed   bool // Get has been called
	overridden bool // OverrideDefaultOnce has succeeded
	version    uint64
	nextID     int
	listeners  []listener[V]
}

type listener[V any] struct {
	id int
	fn func(V, uint64)
}

// New creates a cell holding def.
func New[V any](key Key, def V, opts ...Option[V]) *Cell[V] {
	c := &Cell[V]{key: key, value: def}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cell's identity token.
func (c *Cell[V]) Key() Key {
	return c.key
}

// Get returns the current value and marks the cell as observed.
func (c *Cell[V]) Get() V {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed = true
	return c.value
}

// Set stores v and notifies subscribers.
func (c *Cell[V]) Set(v V) {
	c.Update(func(V) V { return v })
}

// Update stores fn(current) and notifies subscribers.
// fn runs under the cell's lock and must not call back into the cell.
func (c *Cell[V]) Update(fn func(prev V) V) {
	c.mu.Lock()
	prev := c.value
	next := fn(prev)
	if c.equal != nil && c.equal(prev, next) {
		c.mu.Unlock()
		return
	}
	c.value = next
	c.version++
	version := c.version
	snapshot := make([]listener[V], len(c.listeners))
	copy(snapshot, c.listeners)
	c.mu.Unlock()

	for _, l := range snapshot {
		l.fn(next, version)
	}
}

// Version returns the number of committed changes. OverrideDefaultOnce does
// not count as a change.
func (c *Cell[V]) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Subscribe registers fn to be called with every new value.
// The returned function removes the subscription; calling it twice is safe.
func (c *Cell[V]) Subscribe(fn func(V)) (unsubscribe func()) {
	return c.SubscribeVersion(func(v V, _ uint64) { fn(v) })
}

// SubscribeVersion is Subscribe with the version each value was committed
// at. Versions increase strictly in commit order, so a listener can discard
// a value older than one it has already seen.
func (c *Cell[V]) SubscribeVersion(fn func(v V, version uint64)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener[V]{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// OverrideDefaultOnce replaces the default value without notifying
// subscribers. It succeeds only before the first Get and only once; it
// returns false otherwise and leaves the value untouched.
func (c *Cell[V]) OverrideDefaultOnce(v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observed || c.overridden {
		return false
	}
	c.value = v
	c.overridden = true
	return true
}

// Same reports whether two pointers are identical. It is the equality to use
// with WithEqual for cells holding entity states.
func Same[E any](a, b *E) bool {
	return a == b
}

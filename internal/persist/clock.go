package persist

import "sync/atomic"

// clock tracks the highest cell version the write worker has taken on.
// Versions are assigned under the cell's lock, so they follow commit order
// even when listeners of concurrent Sets enqueue out of order. The numbers
// also show up in logs so a lost or failed write can be matched to the
// change that caused it.
type clock struct {
	seq atomic.Uint64
}

// advance records seq and reports whether it is newer than every sequence
// seen so far. A false result means a later change has already been handled.
func (c *clock) advance(seq uint64) bool {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return false
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// current returns the highest sequence seen.
func (c *clock) current() uint64 {
	return c.seq.Load()
}

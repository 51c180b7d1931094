package persist

import "sync"

// job is one unit of work for the write worker: either a value to persist or
// a barrier that Flush waits on.
type job[V any] struct {
	seq   uint64 // cell version of value
	value V

	// barrier is non-nil for flush markers; the worker closes it once every
	// job enqueued before it has been handled.
	barrier chan struct{}
}

// writeQueue is a thread-safe FIFO of pending writes for one key.
//
// The queue is unbounded so that Set never blocks on persistence. A single
// worker drains it, which gives one in-flight write per key. Jobs may arrive
// out of commit order; the worker drops any job older than one it has handled.
//
// The signal channel (buffered, size 1) lets the worker wait with select
// alongside context cancellation.
type writeQueue[V any] struct {
	mu     sync.Mutex
	jobs   []job[V]
	closed bool
	signal chan struct{}
}

func newWriteQueue[V any]() *writeQueue[V] {
	return &writeQueue[V]{
		jobs:   make([]job[V], 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends j. Returns false if the queue is closed.
func (q *writeQueue[V]) Enqueue(j job[V]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	// Non-blocking: a pending signal already covers this job.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front job without blocking.
func (q *writeQueue[V]) TryDequeue() (job[V], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job[V]{}, false
	}

	j := q.jobs[0]
	// Release the value held by the slot.
	q.jobs[0] = job[V]{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that signals when jobs may be available. It is
// closed by Close.
func (q *writeQueue[V]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending jobs.
func (q *writeQueue[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Drained reports whether the queue is closed and empty. Once true it stays
// true.
func (q *writeQueue[V]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.jobs) == 0
}

// Close stops accepting jobs and wakes the worker. Pending jobs are still
// drained.
func (q *writeQueue[V]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Package handoff provides a thread-safe FIFO queue for moving decoded items
// from network goroutines to the simulation goroutine. Multiple producers may
// push concurrently; items from a single producer are always popped in the
// order that producer enqueued them.
package handoff

import (
	"sync"
)

// Queue is an unbounded FIFO shared between producers and a single consumer.
// The zero value is not usable; create queues with New.
type Queue[T any] struct {
	mu     sync.Mutex
	nonEmp *sync.Cond
	items  []T
	closed bool
}

// New creates an open, empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.nonEmp = sync.NewCond(&q.mu)
	return q
}

// Push appends an item to the queue. Push never blocks. Pushing to a closed
// queue is a no-op; the item is dropped.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.nonEmp.Signal()
}

// Pop blocks until an item is available or the queue is closed. It returns
// ok=false only when the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.nonEmp.Wait()
	}
	return q.popLocked()
}

// TryPop returns the next item without blocking. ok is false when the queue is
// empty or closed and drained.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked()
}

// popLocked removes and returns the head item. Callers hold q.mu.
func (q *Queue[T]) popLocked() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero // release the reference
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Close marks the queue closed and wakes every blocked consumer. Items already
// queued can still be drained with Pop or TryPop. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.nonEmp.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Package events provides the status channel between capture and presentation
// and a JSON-lines log of session lifecycle events.
package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Next once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded FIFO that never blocks producers: when full, Push evicts
// the oldest item. Consumers may poll or wait.
// It is safe for concurrent use.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	dropped uint64
	closed  bool

	notify chan struct{} // capacity 1, signalled on push
	done   chan struct{} // closed on Close
}

// NewQueue returns a queue holding at most capacity items (minimum 1).
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items:  make([]T, max(capacity, 1)),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v and reports whether an older item was evicted to make room.
// Pushing to a closed queue is a no-op.
func (q *Queue[T]) Push(v T) (evicted bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.size == len(q.items) {
		var zero T
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped++
		evicted = true
	}
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// Poll removes and returns the oldest item without blocking.
func (q *Queue[T]) Poll() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Latest drains the queue and returns the newest item.
func (q *Queue[T]) Latest() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.items[(q.head+q.size-1)%len(q.items)]
	clear(q.items)
	q.head, q.size = 0, 0
	return v, true
}

// Next waits for the oldest item. It returns ErrQueueClosed once the queue
// is closed and empty, or the context error.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return v, nil
		}
		if closed {
			return v, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// Close stops accepting items. Items already queued remain readable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Done is closed when the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many items were evicted since creation.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return v, true
}

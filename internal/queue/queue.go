// Package queue provides an unbounded FIFO queue shared by producers and a
// blocking consumer. Put never blocks, which keeps cross-goroutine hand-off
// (hub delivery, stamp job submission) free of back-pressure on the sender.
package queue

import "sync"

// Queue is an unbounded multi-producer FIFO. The zero value is not usable;
// use New.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends v and wakes one blocked Take. It never blocks.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.cond.Signal()
	q.mu.Unlock()
}

// Take removes and returns the oldest item, blocking while the queue is
// empty.
func (q *Queue[T]) Take() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}

	v := q.items[0]
	q.items = q.items[1:]
	return v
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

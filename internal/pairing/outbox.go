package pairing

import (
	"sync"
	"sync/atomic"
)

// Outbox is a bounded FIFO of outbound messages for one connection.
//
// Producers (the Matchmaker, the connection's own read loop) never block:
// Enqueue drops the message when the outbox is full or closed. A single
// writer goroutine drains it with Dequeue.
type Outbox[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	max   int
	items []T

	drops atomic.Uint64
}

func NewOutbox[T any](max int) *Outbox[T] {
	if max <= 0 {
		max = 1
	}
	q := &Outbox[T]{max: max}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item if there is room. It never blocks.
func (q *Outbox[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) >= q.max {
		q.drops.Add(1)
		return false
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until an item is available. After Close it keeps returning
// the remaining items and then reports false.
func (q *Outbox[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Close stops accepting new items. Items already queued are still delivered
// by Dequeue so that a final error frame can be flushed before the socket
// closes.
func (q *Outbox[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Discard drops everything still queued and closes the outbox.
func (q *Outbox[T]) Discard() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

func (q *Outbox[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Outbox[T]) DropCount() uint64 {
	return q.drops.Load()
}

package events

import "sync"

// Queue is an unbounded FIFO. Producers never block; a consumer waits in
// Pop until items arrive or the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return &q
}

// Push appends the item. It reports false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)
	q.cond.Signal()

	return true
}

// Pop blocks until there is at least one item and returns everything that
// is queued. It returns false when the queue is closed and empty.
func (q *Queue[T]) Pop() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return nil, false
	}

	items := q.items
	q.items = nil

	return items, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Close wakes any waiting consumer. Items already queued can still be
// popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Forward moves items from the queue into the channel in order until the
// queue is closed and drained or done is closed. The channel is closed on
// return.
func Forward[T any](q *Queue[T], ch chan<- T, done <-chan struct{}) {
	defer close(ch)

	for {
		items, ok := q.Pop()
		if !ok {
			return
		}

		for _, item := range items {
			select {
			case ch <- item:
			case <-done:
				return
			}
		}
	}
}

package app

import "sync"

// queue is a thread-safe, unbounded FIFO of controller messages.
//
// Requests and pipeline results both flow through it; the controller's Run
// loop is the only consumer. Waiting is channel based so the loop can also
// select on context cancellation.
type queue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

func newQueue() *queue {
	return &queue{
		items:  make([]Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds msg to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *queue) Enqueue(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, msg)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front message without blocking.
func (q *queue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	// Clear the slot so a dequeued bundle is not retained by the backing array.
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return msg, true
}

// Wait returns a channel that signals when messages may be available.
// It is closed once the queue is closed.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting messages and wakes waiters.
// Messages already queued can still be dequeued.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

package host

import "sync"

// taskQueue is the unbounded FIFO behind Submit. Any goroutine may enqueue;
// only the host goroutine dequeues.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{tasks: make([]func(), 0, 16)}
}

// Enqueue appends fn. Returns false once the queue is closed.
func (q *taskQueue) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)
	return true
}

// TryDequeue removes the oldest task without blocking.
func (q *taskQueue) TryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	// Drop the slot's reference so the closure can be collected.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return fn, true
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close refuses further tasks. Queued tasks stay dequeueable.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

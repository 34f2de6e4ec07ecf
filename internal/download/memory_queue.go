package download

import (
	"context"
	"sync"
)

// MemoryQueue keeps jobs in process memory. Jobs are lost on restart.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Job
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) (int, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	q.items = append(q.items, job)
	return len(q.items), nil
}

func (q *MemoryQueue) TryDequeue(_ context.Context) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Job{}, false, ErrQueueClosed
	}
	if len(q.items) == 0 {
		return Job{}, false, nil
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job, true, nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

package queue

import (
	"context"
	"time"
)

// MemoryQueue is a channel-backed queue for tests and dev runs
type MemoryQueue struct {
	jobs chan *Job
}

// NewMemoryQueue creates an in-process queue with the given capacity
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{jobs: make(chan *Job, capacity)}
}

// Enqueue implements Queue
func (q *MemoryQueue) Enqueue(_ context.Context, jobType string, args map[string]string) (string, error) {
	job := newJob(jobType, args)
	q.jobs <- job
	return job.ID, nil
}

// Dequeue implements Queue
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of queued jobs, for tests
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

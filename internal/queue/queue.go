// Package queue provides the at-least-once job queue the refresh
// scheduler fans out through. The redis implementation coordinates a
// pool of workers across instances; the memory implementation serves
// tests and single-binary development runs.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of background work. Args are flat strings so the
// payload survives any transport.
type Job struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Args       map[string]string `json:"args"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Queue is an at-least-once delivery job queue with no ordering
// guarantee across job types.
type Queue interface {
	// Enqueue submits a job and returns its id
	Enqueue(ctx context.Context, jobType string, args map[string]string) (string, error)
	// Dequeue blocks up to timeout for the next job; nil means none arrived
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
}

func newJob(jobType string, args map[string]string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Args:       args,
		EnqueuedAt: time.Now().UTC(),
	}
}

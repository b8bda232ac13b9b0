package queue

import (
	"context"
	"encoding/json"
	"time"

	goredislib "github.com/go-redis/redis/v8"

	"credhub/internal/common/errors"
)

const defaultQueueKey = "credhub:jobs"

// RedisQueue is a redis-list backed job queue. Producers LPUSH, workers
// BRPOP, so delivery order within the list is FIFO per instance.
type RedisQueue struct {
	client goredislib.UniversalClient
	key    string
}

// NewRedisQueue creates a queue over a connected redis client
func NewRedisQueue(client goredislib.UniversalClient) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required for the job queue")
	}
	return &RedisQueue{client: client, key: defaultQueueKey}, nil
}

// Enqueue implements Queue
func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, args map[string]string) (string, error) {
	job := newJob(jobType, args)
	payload, err := json.Marshal(job)
	if err != nil {
		return "", errors.InternalError("failed to encode job", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return "", errors.ConnectionError("failed to enqueue job", err)
	}
	return job.ID, nil
}

// Dequeue implements Queue. A timeout with no job is not an error.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	values, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err == goredislib.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ConnectionError("failed to dequeue job", err)
	}
	// BRPOP returns [key, value]
	if len(values) != 2 {
		return nil, errors.InternalError("unexpected BRPOP reply shape", nil)
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, errors.InternalError("failed to decode job payload", err)
	}
	return &job, nil
}

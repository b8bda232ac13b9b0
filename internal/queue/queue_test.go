package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisQueueRoundTrip(t *testing.T) {
	server := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: server.Addr()})
	defer client.Close()

	q, err := NewRedisQueue(client)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := q.Enqueue(ctx, "refresh_one", map[string]string{"credential_id": "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "refresh_one", job.Type)
	assert.Equal(t, "abc", job.Args["credential_id"])
}

func TestRedisQueueFIFO(t *testing.T) {
	server := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: server.Addr()})
	defer client.Close()

	q, err := NewRedisQueue(client)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := q.Enqueue(ctx, "sweep", nil)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "sweep", nil)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first, job.ID)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second, job.ID)
}

func TestMemoryQueueTimeout(t *testing.T) {
	q := NewMemoryQueue(4)

	job, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	_, err = q.Enqueue(context.Background(), "refresh_one", map[string]string{"credential_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	job, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "x", job.Args["credential_id"])
}

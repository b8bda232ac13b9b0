package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalManagerContention(t *testing.T) {
	manager := NewLocalManager()
	ctx := context.Background()

	release, acquired, err := manager.TryAcquire(ctx, "cred-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = manager.TryAcquire(ctx, "cred-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// A different credential is independent
	otherRelease, acquired, err := manager.TryAcquire(ctx, "cred-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	otherRelease()

	release()
	release() // double release is safe

	_, acquired, err = manager.TryAcquire(ctx, "cred-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedsyncManagerContention(t *testing.T) {
	server := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: server.Addr()})
	defer client.Close()

	manager, err := NewRedsyncManager(client)
	require.NoError(t, err)

	ctx := context.Background()
	release, acquired, err := manager.TryAcquire(ctx, "cred-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Second holder loses without error
	_, acquired, err = manager.TryAcquire(ctx, "cred-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	release()

	_, acquired, err = manager.TryAcquire(ctx, "cred-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestNewRedsyncManagerRequiresClient(t *testing.T) {
	_, err := NewRedsyncManager(nil)
	require.Error(t, err)
}

package locks

import (
	"context"
	stderrors "errors"
	"time"

	goredislib "github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"credhub/internal/common/errors"
)

// RedsyncManager coordinates locks across instances via the Redlock
// algorithm from go-redsync/redsync/v4.
type RedsyncManager struct {
	redsync *redsync.Redsync
}

// NewRedsyncManager creates a distributed lock manager over a connected
// redis client.
func NewRedsyncManager(client goredislib.UniversalClient) (*RedsyncManager, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required for distributed locks")
	}
	return &RedsyncManager{
		redsync: redsync.New(goredis.NewPool(client)),
	}, nil
}

// TryAcquire implements Manager with a single acquisition attempt.
// Contention is not an error.
func (m *RedsyncManager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	mutex := m.redsync.NewMutex("lock:"+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1))

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if stderrors.As(err, &taken) || stderrors.Is(err, redsync.ErrFailed) {
			return nil, false, nil
		}
		return nil, false, errors.ConnectionError("failed to acquire distributed lock", err)
	}

	release := func() {
		// Best effort: an expired lock has already been released by redis
		_, _ = mutex.UnlockContext(context.Background())
	}
	return release, true, nil
}

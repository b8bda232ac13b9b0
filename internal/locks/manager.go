// Package locks provides per-credential advisory locks for the refresh
// path. In multi-instance deployments the redsync Redlock implementation
// coordinates through redis; single-instance deployments fall back to an
// in-process manager with the same contract.
package locks

import (
	"context"
	"sync"
	"time"
)

// Manager hands out non-blocking advisory locks. A refresh that loses
// the race observes acquired=false and completes as a no-op.
type Manager interface {
	// TryAcquire attempts the named lock once. On success it returns a
	// release function the holder must call.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error)
}

// LocalManager coordinates within a single process
type LocalManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalManager creates an in-process lock manager
func NewLocalManager() *LocalManager {
	return &LocalManager{held: make(map[string]struct{})}
}

// TryAcquire implements Manager. The ttl is ignored: an in-process lock
// cannot outlive its holder.
func (m *LocalManager) TryAcquire(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[name]; taken {
		return nil, false, nil
	}
	m.held[name] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, name)
			m.mu.Unlock()
		})
	}
	return release, true, nil
}

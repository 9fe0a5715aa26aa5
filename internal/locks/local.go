package locks

import (
	"context"
	"sync"
	"time"
)

// LocalManager keeps locks in memory. Expired entries are replaced on the
// next TryAcquire for the same key.
type LocalManager struct {
	mu    sync.Mutex
	held  map[string]*localLock
	clock func() time.Time
}

func NewLocalManager() *LocalManager {
	return &LocalManager{
		held:  make(map[string]*localLock),
		clock: time.Now,
	}
}

func (m *LocalManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if current, ok := m.held[key]; ok && now.Before(current.expires) {
		return nil, ErrLockHeld
	}

	lock := &localLock{manager: m, key: key, expires: now.Add(ttl)}
	m.held[key] = lock
	return lock, nil
}

func (m *LocalManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = make(map[string]*localLock)
	return nil
}

type localLock struct {
	manager *LocalManager
	key     string
	expires time.Time
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	// a newer holder may have taken over after expiry
	if l.manager.held[l.key] == l {
		delete(l.manager.held, l.key)
	}
	return nil
}

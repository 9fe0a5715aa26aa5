package locks

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"roomgraph/internal/common/errors"
)

// DefaultPrefix namespaces lock keys in Redis
const DefaultPrefix = "roomgraph:lock:"

// RedsyncManager takes locks in Redis using the Redlock algorithm. Locks
// are tried once and never renewed, so the ttl should cover the job.
type RedsyncManager struct {
	redsync *redsync.Redsync
	prefix  string
}

func NewRedsyncManager(client *redis.Client, prefix string) (*RedsyncManager, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required for distributed locks")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedsyncManager{
		redsync: redsync.New(goredis.NewPool(client)),
		prefix:  prefix,
	}, nil
}

func (m *RedsyncManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	mutex := m.redsync.NewMutex(m.prefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &taken) {
			return nil, ErrLockHeld
		}
		return nil, errors.ConnectionError("failed to acquire lock "+key, err)
	}
	return &redsyncLock{key: key, mutex: mutex}, nil
}

// Close is a no-op; the Redis client belongs to the caller
func (m *RedsyncManager) Close() error { return nil }

type redsyncLock struct {
	key      string
	mutex    *redsync.Mutex
	released sync.Once
}

func (l *redsyncLock) Key() string { return l.key }

func (l *redsyncLock) Release(ctx context.Context) error {
	var err error
	l.released.Do(func() {
		var ok bool
		ok, err = l.mutex.UnlockContext(ctx)
		if err == nil && !ok {
			err = errors.InternalError("lock "+l.key+" expired before release", nil)
		}
	})
	return err
}

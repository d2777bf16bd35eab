// Package lock provides the guard that keeps two healthsync clients sharing
// a profile from syncing at the same time: Redis across processes, Memory
// within one.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock: held by another holder")

// Redis is a lock backed by a Redis server.
type Redis struct {
	client *redis.Client
	locker *redislock.Client
}

// NewRedis connects to the Redis server at url (redis://[:password@]host:port/db).
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lock: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &Redis{client: client, locker: redislock.New(client)}, nil
}

// Lock obtains key for ttl without waiting. The returned function releases it.
func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l, err := r.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrHeld
	}
	if err != nil {
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is an in-process lock with TTL expiry.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	now   func() time.Time
	token int
}

type memoryHold struct {
	expires time.Time
	token   int
}

// NewMemory creates an in-process lock.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryHold), now: time.Now}
}

// Lock obtains key for ttl without waiting.
func (m *Memory) Lock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.held[key]; ok && m.now().Before(h.expires) {
		return nil, ErrHeld
	}
	m.token++
	token := m.token
	m.held[key] = memoryHold{expires: m.now().Add(ttl), token: token}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}

// Package lock provides per-task mutual exclusion for report generation.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TaskLocker grants at most one holder per task at a time. A granted lock
// expires after its TTL even if release is never called.
type TaskLocker interface {
	Acquire(ctx context.Context, taskID string) (release func(), ok bool, err error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisTaskLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (l *redisTaskLocker) Acquire(ctx context.Context, taskID string) (func(), bool, error) {
	key := l.prefix + ":" + taskID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

type memoryTaskLocker struct {
	mu     sync.Mutex
	held   map[string]memoryLease
	ttl    time.Duration
	nextGC time.Time
	now    func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func newMemoryTaskLocker(ttl time.Duration) *memoryTaskLocker {
	now := time.Now()
	return &memoryTaskLocker{
		held:   make(map[string]memoryLease),
		ttl:    ttl,
		nextGC: now.Add(ttl),
		now:    time.Now,
	}
}

func (l *memoryTaskLocker) Acquire(_ context.Context, taskID string) (func(), bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.held[taskID]; ok && lease.expires.After(now) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.held[taskID] = memoryLease{token: token, expires: now.Add(l.ttl)}

	if now.After(l.nextGC) {
		for id, lease := range l.held {
			if lease.expires.Before(now) {
				delete(l.held, id)
			}
		}
		l.nextGC = now.Add(l.ttl)
	}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[taskID]; ok && lease.token == token {
			delete(l.held, taskID)
		}
	}
	return release, true, nil
}

// NewMemoryTaskLocker returns a process-local locker.
func NewMemoryTaskLocker(ttl time.Duration) TaskLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return newMemoryTaskLocker(ttl)
}

// NewTaskLocker builds a Redis locker and falls back to in-memory on failure.
// The returned error reports why Redis was not used; the locker is always usable.
func NewTaskLocker(addr, pass string, db int, ttl time.Duration) (TaskLocker, error) {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if addr == "" {
		return newMemoryTaskLocker(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return newMemoryTaskLocker(ttl), err
	}

	return &redisTaskLocker{
		client: client,
		prefix: "reportd:task-lock",
		ttl:    ttl,
	}, nil
}

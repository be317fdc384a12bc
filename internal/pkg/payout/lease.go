package payout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease grants a single holder the right to run a batch. ok is false when
// another holder has it; release is a no-op then.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLease struct {
	client *redis.Client
}

func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}, true, nil
}

// MemoryLease serves single-process deployments and tests.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLease) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[key]; ok && l.now().Before(until) {
		return func() {}, false, nil
	}
	until := l.now().Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}

package counter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "payfox:counters:"
	dayLayout = "2006-01-02"
	// daily hashes are kept for a month of operator lookups
	retention = 35 * 24 * time.Hour
)

// Counter keeps per-day operational counters such as webhook outcomes.
type Counter interface {
	Add(ctx context.Context, name string, delta int64) error
	Snapshot(ctx context.Context, day time.Time) (map[string]int64, error)
}

// Incr bumps name by one. Failures are logged; counting never fails a request.
func Incr(ctx context.Context, c Counter, name string) {
	if c == nil {
		return
	}
	if err := c.Add(ctx, name, 1); err != nil {
		log.Warnf("[Counter] Failed to increment %s: %v", name, err)
	}
}

// DayKey is the Redis hash holding the counters of day (UTC).
func DayKey(day time.Time) string {
	return keyPrefix + day.UTC().Format(dayLayout)
}

// RedisCounter stores one hash per day, shared by every instance.
type RedisCounter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, now: time.Now}
}

func (c *RedisCounter) Add(ctx context.Context, name string, delta int64) error {
	key := DayKey(c.now())
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, name, delta)
	pipe.Expire(ctx, key, retention)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCounter) Snapshot(ctx context.Context, day time.Time) (map[string]int64, error) {
	data, err := c.client.HGetAll(ctx, DayKey(day)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for name, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[name] = n
	}
	return out, nil
}

// MemoryCounter is the in-process variant for DB_DRIVER=memory and tests.
type MemoryCounter struct {
	mu   sync.Mutex
	days map[string]map[string]int64
	now  func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{days: make(map[string]map[string]int64), now: time.Now}
}

func (c *MemoryCounter) Add(_ context.Context, name string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := DayKey(c.now())
	if c.days[key] == nil {
		c.days[key] = make(map[string]int64)
	}
	c.days[key][name] += delta
	return nil
}

func (c *MemoryCounter) Snapshot(_ context.Context, day time.Time) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.days[DayKey(day)]))
	for name, n := range c.days[DayKey(day)] {
		out[name] = n
	}
	return out, nil
}

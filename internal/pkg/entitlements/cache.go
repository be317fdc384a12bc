package entitlements

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const keyPrefix = "entitlements:owner:"

// Cache stores the effective plan per owner with a TTL.
type Cache interface {
	Get(ctx context.Context, ownerID uint) (Plan, bool, error)
	Set(ctx context.Context, ownerID uint, plan Plan) error
	Invalidate(ctx context.Context, ownerID uint) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(ownerID uint) string {
	return fmt.Sprintf("%s%d", keyPrefix, ownerID)
}

func (c *RedisCache) Get(ctx context.Context, ownerID uint) (Plan, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(ownerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Normalize(val), true, nil
}

func (c *RedisCache) Set(ctx context.Context, ownerID uint, plan Plan) error {
	return c.client.Set(ctx, cacheKey(ownerID), string(plan), c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, ownerID uint) error {
	return c.client.Del(ctx, cacheKey(ownerID)).Err()
}

type memoryEntry struct {
	plan      Plan
	expiresAt time.Time
}

// MemoryCache is the in-process Cache used when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint]memoryEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[uint]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, ownerID uint) (Plan, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ownerID]
	if !ok || !c.now().Before(e.expiresAt) {
		delete(c.entries, ownerID)
		return "", false, nil
	}
	return e.plan, true, nil
}

func (c *MemoryCache) Set(_ context.Context, ownerID uint, plan Plan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ownerID] = memoryEntry{plan: plan, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, ownerID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ownerID)
	return nil
}

// Resolver answers "which plan does this owner have" from the cache, falling
// back to the billing account.
type Resolver struct {
	cache    Cache
	accounts repository.BillingAccountRepository
}

func NewResolver(cache Cache, accounts repository.BillingAccountRepository) *Resolver {
	return &Resolver{cache: cache, accounts: accounts}
}

func (r *Resolver) Resolve(ctx context.Context, ownerID uint) (Plan, error) {
	if plan, ok, err := r.cache.Get(ctx, ownerID); err == nil && ok {
		return plan, nil
	} else if err != nil {
		log.Warnf("[Entitlements] Cache read failed for owner %d: %v", ownerID, err)
	}

	plan := PlanFree
	account, err := r.accounts.GetByOwnerID(ctx, ownerID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return PlanFree, err
	default:
		plan = PlanForAccount(account)
	}

	if err := r.cache.Set(ctx, ownerID, plan); err != nil {
		log.Warnf("[Entitlements] Cache write failed for owner %d: %v", ownerID, err)
	}
	return plan, nil
}

// Invalidate drops the cached plan after a tier or status change.
func (r *Resolver) Invalidate(ctx context.Context, ownerID uint) error {
	return r.cache.Invalidate(ctx, ownerID)
}

// PlanForAccount returns the account tier while its status entitles, else free.
func PlanForAccount(account *models.BillingAccount) Plan {
	if account == nil || !account.IsEntitling() {
		return PlanFree
	}
	return Normalize(account.Tier)
}

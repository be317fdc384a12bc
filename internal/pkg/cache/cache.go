package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to the Redis/Dragonfly cache server. An unreachable
// server is logged and the client is returned anyway; go-redis reconnects
// on the next command.
func NewClient(cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     Addr(cfg),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to %s: %v", Addr(cfg), err)
	} else {
		log.Infof("[Cache] Connected to %s: %s", Addr(cfg), pong)
	}
	return client
}

// Addr returns host:port of the cache server.
func Addr(cfg config.CacheConfig) string {
	return fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
}

// Healthy reports whether the server answers a ping.
func Healthy(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

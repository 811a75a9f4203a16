// Package keycache caches party public keys in Redis. The cache is a pure
// accelerator: failures degrade to store lookups and are logged, never
// surfaced to callers.
package keycache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"travlr/pkg/domain"
)

const keyPrefix = "pubkey:"

// Cache is a Redis-backed public key cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) Get(ctx context.Context, aid domain.AID) (string, bool) {
	val, err := c.client.Get(ctx, keyPrefix+aid.String()).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "public key cache read failed", "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, aid domain.AID, publicKey string) {
	if err := c.client.Set(ctx, keyPrefix+aid.String(), publicKey, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "public key cache write failed", "error", err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, aid domain.AID) {
	if err := c.client.Del(ctx, keyPrefix+aid.String()).Err(); err != nil {
		c.logger.WarnContext(ctx, "public key cache invalidation failed", "error", err)
	}
}

// internal/pkg/session/revocation_cache.go
package session

import (
	"context"
	"fmt"
	"time"

	"timeclock-service/internal/domain/auth"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RevocationCache fronts a durable auth.RevocationStore with Redis keys that
// expire together with the revoked credential. The durable store stays the
// source of truth: Redis errors and misses fall back to it.
type RevocationCache struct {
	client redis.UniversalClient
	store  auth.RevocationStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRevocationCache(client redis.UniversalClient, store auth.RevocationStore, logger *zap.Logger) *RevocationCache {
	return &RevocationCache{
		client: client,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Save writes through to the durable store, then caches the entry
func (c *RevocationCache) Save(ctx context.Context, entry *auth.RevocationEntry) error {
	if err := c.store.Save(ctx, entry); err != nil {
		return err
	}

	ttl := entry.ExpiryTime.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.blacklistKey(entry.JTI), entry.PrincipalID, ttl).Err(); err != nil {
		c.logger.Warn("failed to cache revocation",
			zap.String("jti", entry.JTI),
			zap.Error(err),
		)
	}
	return nil
}

// IsRevoked checks Redis first, then the durable store
func (c *RevocationCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.blacklistKey(jti)).Result()
	if err == nil && exists > 0 {
		return true, nil
	}
	if err != nil {
		c.logger.Warn("redis blacklist check failed, falling back to store",
			zap.String("jti", jti),
			zap.Error(err),
		)
	}

	return c.store.IsRevoked(ctx, jti)
}

// DeleteByPrincipal removes the principal's entries from both layers
func (c *RevocationCache) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	if err := c.store.DeleteByPrincipal(ctx, principalID); err != nil {
		return err
	}

	// SCAN only walks the node it is sent to, so a cluster is scanned
	// master by master.
	if cluster, ok := c.client.(*redis.ClusterClient); ok {
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return c.evictPrincipal(ctx, node, principalID)
		})
		if err != nil {
			return fmt.Errorf("failed to scan cached revocations: %w", err)
		}
		return nil
	}
	if err := c.evictPrincipal(ctx, c.client, principalID); err != nil {
		return fmt.Errorf("failed to scan cached revocations: %w", err)
	}
	return nil
}

// evictPrincipal deletes the cached entries owned by principalID that node
// holds. Cached values hold the principal id, so scan and compare.
func (c *RevocationCache) evictPrincipal(ctx context.Context, node redis.Cmdable, principalID int64) error {
	iter := node.Scan(ctx, 0, c.blacklistKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner, err := node.Get(ctx, key).Int64()
		if err != nil || owner != principalID {
			continue
		}
		if err := node.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("failed to delete cached revocation", zap.String("key", key), zap.Error(err))
		}
	}
	return iter.Err()
}

// DeleteExpired only touches the durable store; Redis keys expire on their own.
func (c *RevocationCache) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.store.DeleteExpired(ctx, cutoff)
}

func (c *RevocationCache) InvalidateBefore(ctx context.Context, principalID int64, at, retainUntil time.Time) error {
	return c.store.InvalidateBefore(ctx, principalID, at, retainUntil)
}

func (c *RevocationCache) InvalidatedAt(ctx context.Context, principalID int64) (time.Time, bool, error) {
	return c.store.InvalidatedAt(ctx, principalID)
}

func (c *RevocationCache) blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}

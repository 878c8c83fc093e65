package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// Cache fronts the relational store with Redis for hot playbook
// reads. Misses and Redis failures fall through to Postgres; the
// cache never breaks a read path. Compliance mappings are served by
// MappingSnapshot instead, which reloads wholesale.
type Cache struct {
	inner  *Postgres
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache wires the cache in front of the store.
func NewCache(inner *Postgres, cfg RedisConfig, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		inner: inner,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    ttl,
		logger: logger,
	}
}

// Client exposes the underlying Redis client for shared concerns
// such as rate limiting.
func (c *Cache) Client() *redis.Client { return c.client }

// ListPlaybooks is served straight from the store; list views change
// too often to cache usefully.
func (c *Cache) ListPlaybooks(ctx context.Context, limit, offset int) ([]PlaybookSummary, error) {
	return c.inner.ListPlaybooks(ctx, limit, offset)
}

// Ping reports Redis health.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error { return c.client.Close() }

func playbookKey(id string) string { return "tf:playbook:" + id }

// LoadPlaybook reads through the cache.
func (c *Cache) LoadPlaybook(ctx context.Context, id string) (*playbook.Playbook, error) {
	raw, err := c.client.Get(ctx, playbookKey(id)).Bytes()
	if err == nil {
		var pb playbook.Playbook
		if err := json.Unmarshal(raw, &pb); err == nil {
			return &pb, nil
		}
		// poisoned entry, fall through and rewrite
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("redis get failed", zap.String("key", playbookKey(id)), zap.Error(err))
	}

	pb, err := c.inner.LoadPlaybook(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, playbookKey(id), pb)
	return pb, nil
}

// SavePlaybook writes through and invalidates the cached aggregate.
func (c *Cache) SavePlaybook(ctx context.Context, pb *playbook.Playbook) error {
	if err := c.inner.SavePlaybook(ctx, pb); err != nil {
		return err
	}
	c.invalidate(ctx, playbookKey(pb.ID))
	return nil
}

// DeletePlaybook removes the row and the cached aggregate.
func (c *Cache) DeletePlaybook(ctx context.Context, id string) error {
	if err := c.inner.DeletePlaybook(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, playbookKey(id))
	return nil
}

// UpdatePlaybookStatus updates the row and invalidates the aggregate.
func (c *Cache) UpdatePlaybookStatus(ctx context.Context, id string, status playbook.Status) error {
	if err := c.inner.UpdatePlaybookStatus(ctx, id, status); err != nil {
		return err
	}
	c.invalidate(ctx, playbookKey(id))
	return nil
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("redis del failed", zap.String("key", key), zap.Error(err))
	}
}

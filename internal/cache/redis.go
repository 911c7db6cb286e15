package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/harrier/internal/domain"
)

// RedisCache implements ResultCache using one Redis hash per namespace
// plus a set indexing the namespaces in use.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ domain.ResultCache = (*RedisCache)(nil)

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int, prefix string) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, prefix), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "harrier:cache"
	}
	return &RedisCache{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

// Get retrieves a value, or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	val, err := c.client.HGet(ctx, c.namespaceKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores a value and registers its namespace.
func (c *RedisCache) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.namespaceKey(namespace), key, value)
		pipe.SAdd(ctx, c.indexKey(), namespace)
		return nil
	})
	return err
}

// Evict removes one entry.
func (c *RedisCache) Evict(ctx context.Context, namespace, key string) error {
	return c.client.HDel(ctx, c.namespaceKey(namespace), key).Err()
}

// EvictNamespace removes a namespace and all of its entries.
func (c *RedisCache) EvictNamespace(ctx context.Context, namespace string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.namespaceKey(namespace))
		pipe.SRem(ctx, c.indexKey(), namespace)
		return nil
	})
	return err
}

// Clear removes every namespace owned by this cache.
func (c *RedisCache) Clear(ctx context.Context) error {
	namespaces, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(namespaces)+1)
	for _, ns := range namespaces {
		keys = append(keys, c.namespaceKey(ns))
	}
	keys = append(keys, c.indexKey())

	return c.client.Del(ctx, keys...).Err()
}

// Stats returns entry counts per namespace. Namespaces left empty by
// Evict are pruned from the index.
func (c *RedisCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	stats := domain.CacheStats{Namespaces: make(map[string]int)}

	namespaces, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return stats, err
	}

	for _, ns := range namespaces {
		n, err := c.client.HLen(ctx, c.namespaceKey(ns)).Result()
		if err != nil {
			return stats, err
		}
		if n == 0 {
			if err := c.client.SRem(ctx, c.indexKey(), ns).Err(); err != nil {
				slog.Warn("failed to prune empty cache namespace",
					"namespace", ns,
					"error", err,
				)
			}
			continue
		}
		stats.Namespaces[ns] = int(n)
		stats.TotalEntries += int(n)
	}
	stats.TotalNamespaces = len(stats.Namespaces)

	return stats, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) namespaceKey(namespace string) string {
	return c.prefix + ":ns:" + namespace
}

func (c *RedisCache) indexKey() string {
	return c.prefix + ":namespaces"
}

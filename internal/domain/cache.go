package domain

import (
	"context"
)

// ResultCache is a namespaced key/value store for derived results.
// Entries never expire; they are removed only by explicit calls.
type ResultCache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	Put(ctx context.Context, namespace, key string, value []byte) error

	// Evict removes one entry. Missing keys are not an error.
	Evict(ctx context.Context, namespace, key string) error

	EvictNamespace(ctx context.Context, namespace string) error

	// Clear removes every entry in every namespace.
	Clear(ctx context.Context) error

	Stats(ctx context.Context) (CacheStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheStats reports the number of entries held per namespace.
type CacheStats struct {
	Namespaces      map[string]int `json:"namespaces"`
	TotalNamespaces int            `json:"totalNamespaces"`
	TotalEntries    int            `json:"totalEntries"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `envconfig:"TYPE" default:"memory" validate:"oneof=memory redis"`

	// Redis settings
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"min=0"`
	KeyPrefix     string `envconfig:"KEY_PREFIX" default:"harrier:cache"`
}

// Package cache provides result cache implementations for Harrier.
package cache

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New creates a new cache based on configuration.
// "memory" keeps entries in process; "redis" shares them between instances.
func New(cfg domain.CacheConfig) (domain.ResultCache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryCache(), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Package cache provides the hot-lookup cache used for cost breakdowns.
package cache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"costwatch/internal/adapters/config"
	"costwatch/pkg/errors"
)

// Cache is a byte-oriented key/value cache with TTL
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// New builds the cache selected by CACHE_BACKEND. The redis client is only
// required for the redis backend.
func New(cfg config.CacheConfig, rdb *goredis.Client) (Cache, error) {
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "ristretto":
		return NewRistretto(cfg.MaxCostBytes)
	case "redis":
		if rdb == nil {
			return nil, errors.NewConfigurationError("CACHE_BACKEND", "redis backend requires a redis connection")
		}
		return NewRedis(rdb, "cache:"), nil
	default:
		return nil, errors.NewConfigurationError("CACHE_BACKEND", "unknown backend "+cfg.Backend)
	}
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (Noop) Delete(context.Context, string) error {
	return nil
}

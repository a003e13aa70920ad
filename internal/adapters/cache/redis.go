package cache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"costwatch/pkg/errors"
)

// Redis is a shared cache for multi-replica deployments
type Redis struct {
	client *goredis.Client
	prefix string
}

// NewRedis creates a Redis-backed cache; keys are namespaced with prefix
func NewRedis(client *goredis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Get retrieves a value
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "cache get %s", key)
	}
	return data, true, nil
}

// Set stores a value with TTL
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "cache set %s", key)
	}
	return nil
}

// Delete removes a value
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrapf(err, "cache delete %s", key)
	}
	return nil
}

package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"costwatch/pkg/errors"
)

const alertDedupKeyPrefix = "alert:dedup:"

// AlertDeduplicator claims (owner, anomaly type) alert slots with SET NX PX,
// so replicas sharing one Redis suppress each other's duplicates.
type AlertDeduplicator struct {
	client *redis.Client
}

// NewAlertDeduplicator creates a new Redis deduplicator
func NewAlertDeduplicator(client *redis.Client) *AlertDeduplicator {
	return &AlertDeduplicator{client: client}
}

// Claim returns true when no alert for key was claimed within window
func (d *AlertDeduplicator) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, alertDedupKeyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), window).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim dedup key %s", key)
	}
	return ok, nil
}

// Release gives a claim back, e.g. when the alert was rate limited afterwards
func (d *AlertDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, alertDedupKeyPrefix+key).Err(); err != nil {
		return errors.Wrapf(err, "failed to release dedup key %s", key)
	}
	return nil
}

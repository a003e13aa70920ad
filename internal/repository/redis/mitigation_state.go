package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"costwatch/internal/domain/mitigation"
	"costwatch/pkg/errors"
)

// Compile-time check
var _ mitigation.Repository = (*MitigationStateRepository)(nil)

const mitigationKeyPrefix = "mitigation:"

// MitigationStateRepository implements mitigation.Repository using Redis.
// One key per (owner, action) so each action expires independently.
type MitigationStateRepository struct {
	client *redis.Client
}

// NewMitigationStateRepository creates a new mitigation state repository
func NewMitigationStateRepository(client *redis.Client) *MitigationStateRepository {
	return &MitigationStateRepository{client: client}
}

// Put stores the state with TTL, overwriting the previous value
func (r *MitigationStateRepository) Put(ctx context.Context, state *mitigation.State, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal mitigation state: owner=%s action=%s", state.OwnerID, state.Action)
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.getKey(state.OwnerID, state.Action), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to save mitigation state: owner=%s action=%s", state.OwnerID, state.Action)
	}
	return nil
}

// List reads every action key of the owner
func (r *MitigationStateRepository) List(ctx context.Context, ownerID string) (map[mitigation.Action]*mitigation.State, error) {
	keys := make([]string, len(mitigation.Actions))
	for i, action := range mitigation.Actions {
		keys[i] = r.getKey(ownerID, action)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load mitigation state: owner=%s", ownerID)
	}

	out := make(map[mitigation.Action]*mitigation.State)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var st mitigation.State
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal mitigation state: key=%s", keys[i])
		}
		out[st.Action] = &st
	}
	return out, nil
}

func (r *MitigationStateRepository) getKey(ownerID string, action mitigation.Action) string {
	return fmt.Sprintf("%s%s:%s", mitigationKeyPrefix, ownerID, action)
}

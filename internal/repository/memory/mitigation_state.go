package memory

import (
	"context"
	"sync"
	"time"

	"costwatch/internal/domain/mitigation"
)

// Compile-time check
var _ mitigation.Repository = (*MitigationStateRepository)(nil)

type mitigationEntry struct {
	state     mitigation.State
	expiresAt time.Time
}

// MitigationStateRepository keeps mitigation state in process memory
type MitigationStateRepository struct {
	mu      sync.RWMutex
	entries map[string]map[mitigation.Action]mitigationEntry
	now     func() time.Time
}

// NewMitigationStateRepository creates an empty store
func NewMitigationStateRepository() *MitigationStateRepository {
	return &MitigationStateRepository{
		entries: make(map[string]map[mitigation.Action]mitigationEntry),
		now:     time.Now,
	}
}

// Put overwrites the state of (owner, action)
func (r *MitigationStateRepository) Put(_ context.Context, state *mitigation.State, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byAction, ok := r.entries[state.OwnerID]
	if !ok {
		byAction = make(map[mitigation.Action]mitigationEntry)
		r.entries[state.OwnerID] = byAction
	}

	entry := mitigationEntry{state: *state}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	byAction[state.Action] = entry
	return nil
}

// List returns unexpired states for the owner
func (r *MitigationStateRepository) List(_ context.Context, ownerID string) (map[mitigation.Action]*mitigation.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	out := make(map[mitigation.Action]*mitigation.State)
	for action, entry := range r.entries[ownerID] {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			continue
		}
		st := entry.state
		out[action] = &st
	}
	return out, nil
}

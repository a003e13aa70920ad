package memory

import (
	"context"
	"sort"
	"sync"

	"costwatch/internal/domain/cost"
	"costwatch/pkg/errors"
)

// Compile-time check
var _ cost.Repository = (*CostEventRepository)(nil)

type storedEvent struct {
	seq   int64
	event *cost.Event
}

// CostEventRepository is an in-process append-only event log
type CostEventRepository struct {
	mu     sync.RWMutex
	events []storedEvent
	ids    map[string]int // id -> index into events
	seq    int64
}

// NewCostEventRepository creates an empty in-memory repository
func NewCostEventRepository() *CostEventRepository {
	return &CostEventRepository{
		ids: make(map[string]int),
	}
}

// Store appends a single event
func (r *CostEventRepository) Store(ctx context.Context, event *cost.Event) error {
	return r.StoreBatch(ctx, []*cost.Event{event})
}

// StoreBatch appends all events or none of them
func (r *CostEventRepository) StoreBatch(ctx context.Context, events []*cost.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, dup := r.ids[e.ID]; dup {
			return errors.Wrapf(errors.ErrDuplicateEvent, "event %s", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return errors.Wrapf(errors.ErrDuplicateEvent, "event %s repeated in batch", e.ID)
		}
		seen[e.ID] = struct{}{}
	}

	for _, e := range events {
		r.seq++
		r.ids[e.ID] = len(r.events)
		r.events = append(r.events, storedEvent{seq: r.seq, event: e.Clone()})
	}
	return nil
}

// Get returns the stored event with id
func (r *CostEventRepository) Get(ctx context.Context, id string) (*cost.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.ids[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "cost event %s", id)
	}
	return r.events[idx].event.Clone(), nil
}

// Query returns matching events ordered by OccurredAt, then insertion order
func (r *CostEventRepository) Query(ctx context.Context, filter cost.Filter) ([]*cost.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	matched := make([]storedEvent, 0)
	for _, se := range r.events {
		if filter.Matches(se.event) {
			matched = append(matched, se)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.event.OccurredAt.Equal(b.event.OccurredAt) {
			return a.event.OccurredAt.Before(b.event.OccurredAt)
		}
		return a.seq < b.seq
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*cost.Event, len(matched))
	for i, se := range matched {
		out[i] = se.event.Clone()
	}
	return out, nil
}

// Len returns the number of stored events
func (r *CostEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

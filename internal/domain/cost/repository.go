package cost

import (
	"context"
	"time"
)

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	OwnerID    string
	WorkUnitID string
	Type       Type
	From       time.Time // inclusive
	To         time.Time // exclusive
	Limit      int
}

// Matches reports whether e passes the filter (Limit is ignored)
func (f Filter) Matches(e *Event) bool {
	if f.OwnerID != "" && e.OwnerID != f.OwnerID {
		return false
	}
	if f.WorkUnitID != "" && e.WorkUnitID != f.WorkUnitID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

// Repository persists cost events. Implementations are append-only and
// return query results ordered by OccurredAt, then by insertion order.
// An ID that is already stored is rejected with errors.ErrDuplicateEvent.
type Repository interface {
	// Store appends a single event
	Store(ctx context.Context, event *Event) error

	// StoreBatch appends events in one backend call; all or nothing
	StoreBatch(ctx context.Context, events []*Event) error

	// Get returns the stored event with id, or errors.ErrNotFound
	Get(ctx context.Context, id string) (*Event, error)

	// Query returns events matching the filter
	Query(ctx context.Context, filter Filter) ([]*Event, error)
}

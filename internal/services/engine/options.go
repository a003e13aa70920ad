package engine

import "time"

// Metadata keys that may carry core fields when no option sets them
const (
	MetaOwnerID   = "owner_id"
	MetaOperation = "operation"
)

type recordOptions struct {
	eventID    string
	ownerID    string
	operation  string
	occurredAt time.Time
}

// RecordOption customizes RecordCost
type RecordOption func(*recordOptions)

// WithOwner sets the owner of the event
func WithOwner(ownerID string) RecordOption {
	return func(o *recordOptions) { o.ownerID = ownerID }
}

// WithOperation sets the operation name
func WithOperation(op string) RecordOption {
	return func(o *recordOptions) { o.operation = op }
}

// WithOccurredAt backdates the event. Out-of-order times are allowed.
func WithOccurredAt(t time.Time) RecordOption {
	return func(o *recordOptions) { o.occurredAt = t }
}

// WithEventID keeps a producer-assigned ID so redelivered events stay idempotent
func WithEventID(id string) RecordOption {
	return func(o *recordOptions) { o.eventID = id }
}

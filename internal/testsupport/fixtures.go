package testsupport

import (
	"time"

	"github.com/shopspring/decimal"

	"costwatch/internal/domain/cost"
)

// CostEventFixture provides builder pattern for creating test cost events
type CostEventFixture struct {
	event *cost.Event
}

// NewCostEventFixture creates a default compute event of $0.02 for a unique owner
func NewCostEventFixture() *CostEventFixture {
	e := cost.NewEvent(UniqueName("unit"), UniqueOwnerID(), cost.TypeCompute, decimal.RequireFromString("0.02"))
	e.OccurredAt = time.Now().UTC().Truncate(time.Microsecond)
	return &CostEventFixture{event: e}
}

// WithOwner sets the owner
func (f *CostEventFixture) WithOwner(ownerID string) *CostEventFixture {
	f.event.OwnerID = ownerID
	return f
}

// WithWorkUnit sets the work unit
func (f *CostEventFixture) WithWorkUnit(unitID string) *CostEventFixture {
	f.event.WorkUnitID = unitID
	return f
}

// WithType sets the cost type
func (f *CostEventFixture) WithType(t cost.Type) *CostEventFixture {
	f.event.Type = t
	return f
}

// WithAmount sets the amount from a decimal string, e.g. "0.018"
func (f *CostEventFixture) WithAmount(amount string) *CostEventFixture {
	f.event.Amount = decimal.RequireFromString(amount)
	return f
}

// WithOccurredAt sets the event time
func (f *CostEventFixture) WithOccurredAt(t time.Time) *CostEventFixture {
	f.event.OccurredAt = t.UTC()
	return f
}

// WithOperation sets the operation
func (f *CostEventFixture) WithOperation(op string) *CostEventFixture {
	f.event.Operation = op
	return f
}

// WithMeta adds a metadata entry
func (f *CostEventFixture) WithMeta(key, value string) *CostEventFixture {
	f.event.Metadata[key] = value
	return f
}

// Build returns the event
func (f *CostEventFixture) Build() *cost.Event {
	return f.event.Clone()
}

package cost

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"costwatch/pkg/errors"
)

// Type is the category of spend
type Type string

const (
	TypeCompute     Type = "compute"
	TypeInfra       Type = "infra"
	TypeVectorIndex Type = "vector-index"
	TypeDB          Type = "db"
	TypeOther       Type = "other"
)

// Amount limits shared by every storage backend (NUMERIC/Decimal(20, 8))
const AmountScale = 8

var maxAmount = decimal.New(1, 20-AmountScale) // exclusive

// Types lists every valid cost type in display order
var Types = []Type{TypeCompute, TypeInfra, TypeVectorIndex, TypeDB, TypeOther}

// Valid reports whether t is a known cost type
func (t Type) Valid() bool {
	switch t {
	case TypeCompute, TypeInfra, TypeVectorIndex, TypeDB, TypeOther:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// ParseType parses a cost type, case-insensitively
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.NewValidationError("cost_type", "unknown cost type", s)
	}
	return t, nil
}

// Event is one unit of spend. Immutable once stored.
type Event struct {
	ID         string            `json:"id"`
	WorkUnitID string            `json:"work_unit_id"`
	OwnerID    string            `json:"owner_id"`
	Type       Type              `json:"cost_type"`
	Amount     decimal.Decimal   `json:"amount"`
	Operation  string            `json:"operation,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh ID, stamped now in UTC
func NewEvent(workUnitID, ownerID string, costType Type, amount decimal.Decimal) *Event {
	return &Event{
		ID:         uuid.New().String(),
		WorkUnitID: workUnitID,
		OwnerID:    ownerID,
		Type:       costType,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
		Metadata:   map[string]string{},
	}
}

// Validate checks required fields, cost type and the amount's sign and precision
func (e *Event) Validate() error {
	if e == nil {
		return errors.NewValidationError("event", "is nil", nil)
	}
	if e.ID == "" {
		return errors.NewValidationError("id", "is required", e.ID)
	}
	if e.WorkUnitID == "" {
		return errors.NewValidationError("work_unit_id", "is required", e.WorkUnitID)
	}
	if e.OwnerID == "" {
		return errors.NewValidationError("owner_id", "is required", e.OwnerID)
	}
	if e.Type == "" {
		return errors.NewValidationError("cost_type", "is required", e.Type)
	}
	if !e.Type.Valid() {
		return errors.NewValidationError("cost_type", "unknown cost type", e.Type)
	}
	if e.Amount.IsNegative() {
		return errors.NewValidationError("amount", "must not be negative", e.Amount.String())
	}
	if !e.Amount.Equal(e.Amount.Truncate(AmountScale)) {
		return errors.NewValidationError("amount", "has more than 8 decimal places", e.Amount.String())
	}
	if e.Amount.GreaterThanOrEqual(maxAmount) {
		return errors.NewValidationError("amount", "exceeds storable range", e.Amount.String())
	}
	if e.OccurredAt.IsZero() {
		return errors.NewValidationError("occurred_at", "is required", e.OccurredAt)
	}
	return nil
}

// Clone returns a deep copy so stored events cannot be mutated through callers
func (e *Event) Clone() *Event {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

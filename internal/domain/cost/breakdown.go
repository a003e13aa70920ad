package cost

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinConfidence is the attribution floor
const MinConfidence = 0.95

// Breakdown summarizes the spend of one work unit
type Breakdown struct {
	WorkUnitID      string                   `json:"work_unit_id"`
	TotalAmount     decimal.Decimal          `json:"total_amount"`
	ByType          map[Type]decimal.Decimal `json:"by_type"`
	ConfidenceScore float64                  `json:"confidence_score"`
	EventCount      int                      `json:"event_count"`
	AuditTrail      []AuditEntry             `json:"audit_trail"`
}

// AuditEntry is one attributed event in a breakdown
type AuditEntry struct {
	EventID    string          `json:"event_id"`
	Type       Type            `json:"cost_type"`
	Amount     decimal.Decimal `json:"amount"`
	Operation  string          `json:"operation,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Confidence float64         `json:"confidence"`
}

// EmptyBreakdown is the answer for a unit with no events
func EmptyBreakdown(workUnitID string) *Breakdown {
	return &Breakdown{
		WorkUnitID:      workUnitID,
		TotalAmount:     decimal.Zero,
		ByType:          map[Type]decimal.Decimal{},
		ConfidenceScore: MinConfidence,
		AuditTrail:      []AuditEntry{},
	}
}

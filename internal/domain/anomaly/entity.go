package anomaly

import (
	"time"
)

// Type identifies the detector that produced a record
type Type string

const (
	TypeCostSpike      Type = "cost_spike"
	TypeEfficiencyDrop Type = "efficiency_drop"
	TypeNegativeROI    Type = "negative_roi"
	TypeBudgetOverrun  Type = "budget_overrun"
	TypeEngagementDrop Type = "engagement_drop"
	TypePatternFatigue Type = "pattern_fatigue"
)

// Valid checks if anomaly type is valid
func (t Type) Valid() bool {
	switch t {
	case TypeCostSpike, TypeEfficiencyDrop, TypeNegativeROI,
		TypeBudgetOverrun, TypeEngagementDrop, TypePatternFatigue:
		return true
	}
	return false
}

// String returns string representation
func (t Type) String() string {
	return string(t)
}

// Severity of an anomaly
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; medium and warning share a rank
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium, SeverityWarning:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}

// String returns string representation
func (s Severity) String() string {
	return string(s)
}

// Record is one detected anomaly. Records live for a single detection cycle.
type Record struct {
	Type          Type           `json:"anomaly_type"`
	MetricName    string         `json:"metric_name"`
	CurrentValue  float64        `json:"current_value"`
	BaselineValue float64        `json:"baseline_value"`
	Deviation     float64        `json:"deviation"` // detector ratio: multiplier, drop fraction, ROI %, usage %, % of baseline, score
	Severity      Severity       `json:"severity"`
	Confidence    float64        `json:"confidence"`
	OwnerID       string         `json:"owner_id"`
	Context       map[string]any `json:"context,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// ForOwner stamps the record with its owner and detection time
func (r *Record) ForOwner(ownerID string, at time.Time) *Record {
	r.OwnerID = ownerID
	r.DetectedAt = at.UTC()
	return r
}

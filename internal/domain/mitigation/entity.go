package mitigation

import (
	"context"
	"time"
)

// Action is an automated response to a severe anomaly
type Action string

const (
	ActionThrottle       Action = "throttle"
	ActionDowngradeTier  Action = "downgrade_tier"
	ActionPauseUnit      Action = "pause_unit"
	ActionNotifyOperator Action = "notify_operator"
)

// Actions lists every action in execution order
var Actions = []Action{ActionThrottle, ActionDowngradeTier, ActionPauseUnit, ActionNotifyOperator}

// State is the absolute effect of an action on an owner.
// Writing the same State twice leaves the system unchanged.
type State struct {
	OwnerID     string    `json:"owner_id"`
	Action      Action    `json:"action"`
	Value       string    `json:"value"` // e.g. "0.25" for throttle, "gpt-4o-mini" for downgrade
	Reason      string    `json:"reason"`
	AnomalyType string    `json:"anomaly_type"`
	Severity    string    `json:"severity"`
	AppliedAt   time.Time `json:"applied_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Active reports whether the state is still in force at now
func (s *State) Active(now time.Time) bool {
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Repository stores mitigation state per owner and action
type Repository interface {
	// Put overwrites the state of (owner, action); ttl <= 0 means no expiry
	Put(ctx context.Context, state *State, ttl time.Duration) error

	// List returns the owner's unexpired states keyed by action
	List(ctx context.Context, ownerID string) (map[Action]*State, error)
}

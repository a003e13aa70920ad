package mitigationservice

import (
	"time"

	"costwatch/internal/adapters/config"
	"costwatch/internal/domain/mitigation"
)

// Config holds the mitigation ladder and action settings.
// The ladder is independent of, and stricter than, the alert thresholds.
type Config struct {
	SpikeMultiplier   float64
	EfficiencyDrop    float64
	ROIPercent        float64
	BudgetPercent     float64
	EngagementPercent float64
	FatigueScore      float64

	ThrottleEnabled  bool
	DowngradeEnabled bool
	PauseEnabled     bool

	PauseDuration time.Duration
	StateTTL      time.Duration
	ActionTimeout time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration

	DefaultModel string
	DowngradeMap map[string]string
}

// DefaultConfig returns the production ladder. Pausing is opt-in.
func DefaultConfig() Config {
	return Config{
		SpikeMultiplier:   4.0,
		EfficiencyDrop:    0.50,
		ROIPercent:        -75,
		BudgetPercent:     90,
		EngagementPercent: 50,
		FatigueScore:      0.90,
		ThrottleEnabled:   true,
		DowngradeEnabled:  true,
		PauseEnabled:      false,
		PauseDuration:     60 * time.Minute,
		StateTTL:          24 * time.Hour,
		ActionTimeout:     10 * time.Second,
		MaxAttempts:       3,
		RetryBackoff:      200 * time.Millisecond,
		DefaultModel:      "gpt-4o",
		DowngradeMap: map[string]string{
			"gpt-4o":      "gpt-4o-mini",
			"gpt-4-turbo": "gpt-4o-mini",
		},
	}
}

// NewConfig maps the mitigation section of the application config
func NewConfig(cfg config.MitigationConfig) Config {
	return Config{
		SpikeMultiplier:   cfg.SpikeMultiplier,
		EfficiencyDrop:    cfg.EfficiencyDrop,
		ROIPercent:        cfg.ROIPercent,
		BudgetPercent:     cfg.BudgetPercent,
		EngagementPercent: cfg.EngagementPercent,
		FatigueScore:      cfg.FatigueScore,
		ThrottleEnabled:   cfg.ThrottleEnabled,
		DowngradeEnabled:  cfg.DowngradeEnabled,
		PauseEnabled:      cfg.PauseEnabled,
		PauseDuration:     cfg.PauseDuration,
		StateTTL:          cfg.StateTTL,
		ActionTimeout:     cfg.ActionTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		RetryBackoff:      200 * time.Millisecond,
		DefaultModel:      cfg.DefaultModelTier,
		DowngradeMap:      cfg.DowngradeMap,
	}
}

func (c Config) enabled(action mitigation.Action) bool {
	switch action {
	case mitigation.ActionThrottle:
		return c.ThrottleEnabled
	case mitigation.ActionDowngradeTier:
		return c.DowngradeEnabled
	case mitigation.ActionPauseUnit:
		return c.PauseEnabled
	case mitigation.ActionNotifyOperator:
		return true
	}
	return false
}

// ActionResult is the outcome of one mitigating action
type ActionResult struct {
	Action   mitigation.Action `json:"action"`
	Executed bool              `json:"executed"`
	Detail   string            `json:"detail,omitempty"`
	Error    string            `json:"error,omitempty"`
	Attempts int               `json:"attempts"`
}

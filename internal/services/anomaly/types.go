package anomalyservice

import (
	"time"

	"costwatch/internal/adapters/config"
	"costwatch/internal/domain/anomaly"
	"costwatch/pkg/errors"
)

// SignalKind is a non-cost metric fed into the detectors
type SignalKind string

const (
	SignalEfficiency SignalKind = "efficiency"
	SignalRevenue    SignalKind = "revenue"
	SignalEngagement SignalKind = "engagement_coefficient"
	SignalFatigue    SignalKind = "pattern_fatigue"
)

// ParseSignalKind validates a signal name
func ParseSignalKind(s string) (SignalKind, error) {
	switch k := SignalKind(s); k {
	case SignalEfficiency, SignalRevenue, SignalEngagement, SignalFatigue:
		return k, nil
	}
	return "", errors.NewValidationError("signal_kind", "unknown signal", s)
}

// Config configures baselines and detection
type Config struct {
	Thresholds    anomaly.Thresholds
	Lookback      int // samples kept per baseline window
	MinSamples    int // baseline samples required before a spike can be asserted
	CheckInterval time.Duration
	DefaultBudget float64 // daily limit in USD; 0 disables budget detection
	OwnerBudgets  map[string]float64
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Thresholds:    anomaly.DefaultThresholds(),
		Lookback:      20,
		MinSamples:    3,
		CheckInterval: 30 * time.Second,
	}
}

// NewConfig maps the detection section of the application config
func NewConfig(cfg config.DetectionConfig) Config {
	return Config{
		Thresholds: anomaly.Thresholds{
			SpikeMultiplier:           cfg.SpikeMultiplier,
			SpikeHighMultiplier:       cfg.SpikeHighMultiplier,
			SpikeCriticalMultiplier:   cfg.SpikeCriticalMultiplier,
			EfficiencyDrop:            cfg.EfficiencyDropThreshold,
			EfficiencyDropHigh:        cfg.EfficiencyDropHigh,
			ROIPercent:                cfg.ROIThreshold,
			ROICriticalPercent:        cfg.ROICriticalThreshold,
			BudgetPercent:             cfg.BudgetThreshold,
			BudgetHighPercent:         cfg.BudgetHigh,
			BudgetCriticalPercent:     cfg.BudgetCritical,
			EngagementPercent:         cfg.EngagementThreshold,
			EngagementCriticalPercent: cfg.EngagementCritical,
			FatigueScore:              cfg.FatigueThreshold,
			FatigueHighScore:          cfg.FatigueHigh,
			FatigueCriticalScore:      cfg.FatigueCritical,
		},
		Lookback:      cfg.BaselineLookback,
		MinSamples:    cfg.BaselineMinSamples,
		CheckInterval: cfg.CheckInterval,
		DefaultBudget: cfg.BudgetDefaultLimitUSD,
		OwnerBudgets:  cfg.BudgetOwnerLimits,
	}
}

func (c Config) budgetFor(ownerID string) float64 {
	if v, ok := c.OwnerBudgets[ownerID]; ok {
		return v
	}
	return c.DefaultBudget
}

// Evaluation is the outcome of one owner check
type Evaluation struct {
	OwnerID    string
	Anomalies  []*anomaly.Record
	Skipped    bool
	SkipReason string
	CheckedAt  time.Time
}

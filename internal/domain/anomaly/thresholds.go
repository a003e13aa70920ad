package anomaly

// Thresholds holds the alert ladders of every detector. All bounds are inclusive.
type Thresholds struct {
	SpikeMultiplier         float64
	SpikeHighMultiplier     float64
	SpikeCriticalMultiplier float64

	EfficiencyDrop     float64 // fraction of the baseline mean
	EfficiencyDropHigh float64

	ROIPercent         float64
	ROICriticalPercent float64

	BudgetPercent         float64
	BudgetHighPercent     float64
	BudgetCriticalPercent float64

	EngagementPercent         float64 // current as % of baseline
	EngagementCriticalPercent float64

	FatigueScore         float64
	FatigueHighScore     float64
	FatigueCriticalScore float64
}

// DefaultThresholds returns the production ladders
func DefaultThresholds() Thresholds {
	return Thresholds{
		SpikeMultiplier:           3.0,
		SpikeHighMultiplier:       3.5,
		SpikeCriticalMultiplier:   5.0,
		EfficiencyDrop:            0.30,
		EfficiencyDropHigh:        0.50,
		ROIPercent:                -50,
		ROICriticalPercent:        -80,
		BudgetPercent:             80,
		BudgetHighPercent:         85,
		BudgetCriticalPercent:     95,
		EngagementPercent:         70,
		EngagementCriticalPercent: 40,
		FatigueScore:              0.80,
		FatigueHighScore:          0.90,
		FatigueCriticalScore:      0.95,
	}
}

package anomaly

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Detectors are pure: they read their inputs and the ladder and return a
// record or nil. Ratios are computed in decimal so that a value sitting
// exactly on a threshold is classified as crossing it.

var hundred = decimal.NewFromInt(100)

// Mean returns the arithmetic mean of samples, or zero when empty
func Mean(samples []decimal.Decimal) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, samples...).Div(decimal.NewFromInt(int64(len(samples))))
}

// DetectCostSpike compares the current cost sample with the baseline mean
func DetectCostSpike(current decimal.Decimal, baseline []decimal.Decimal, th Thresholds) *Record {
	mean := Mean(baseline)
	if !mean.IsPositive() || !current.IsPositive() {
		return nil
	}

	multiplier := current.Div(mean)
	if multiplier.LessThan(dec(th.SpikeMultiplier)) {
		return nil
	}

	severity := SeverityMedium
	switch {
	case multiplier.GreaterThanOrEqual(dec(th.SpikeCriticalMultiplier)):
		severity = SeverityCritical
	case multiplier.GreaterThanOrEqual(dec(th.SpikeHighMultiplier)):
		severity = SeverityHigh
	}

	m := multiplier.InexactFloat64()
	return &Record{
		Type:          TypeCostSpike,
		MetricName:    "cost_per_event",
		CurrentValue:  current.InexactFloat64(),
		BaselineValue: mean.InexactFloat64(),
		Deviation:     m,
		Severity:      severity,
		Confidence:    confidence(m-th.SpikeMultiplier, th.SpikeCriticalMultiplier-th.SpikeMultiplier),
		Context: map[string]any{
			"multiplier":       m,
			"baseline_samples": len(baseline),
			"summary":          fmt.Sprintf("cost %.2fx above baseline", m),
		},
	}
}

// DetectEfficiencyDrop reports a fall of the current efficiency below the baseline mean
func DetectEfficiencyDrop(current decimal.Decimal, baseline []decimal.Decimal, th Thresholds) *Record {
	mean := Mean(baseline)
	if !mean.IsPositive() || current.IsNegative() {
		return nil
	}

	drop := mean.Sub(current).Div(mean)
	if drop.LessThan(dec(th.EfficiencyDrop)) {
		return nil
	}

	severity := SeverityMedium
	if drop.GreaterThanOrEqual(dec(th.EfficiencyDropHigh)) {
		severity = SeverityHigh
	}

	d := drop.InexactFloat64()
	return &Record{
		Type:          TypeEfficiencyDrop,
		MetricName:    "efficiency",
		CurrentValue:  current.InexactFloat64(),
		BaselineValue: mean.InexactFloat64(),
		Deviation:     d,
		Severity:      severity,
		Confidence:    confidence(d-th.EfficiencyDrop, th.EfficiencyDropHigh-th.EfficiencyDrop),
		Context: map[string]any{
			"drop_pct": d * 100,
			"summary":  fmt.Sprintf("efficiency down %.0f%% from baseline", d*100),
		},
	}
}

// DetectNegativeROI reports spend that returns too little revenue
func DetectNegativeROI(revenue, spend decimal.Decimal, th Thresholds) *Record {
	if !spend.IsPositive() {
		return nil
	}

	roi := revenue.Sub(spend).Div(spend).Mul(hundred)
	if roi.GreaterThan(dec(th.ROIPercent)) {
		return nil
	}

	severity := SeverityMedium
	if roi.LessThanOrEqual(dec(th.ROICriticalPercent)) {
		severity = SeverityCritical
	}

	r := roi.InexactFloat64()
	return &Record{
		Type:          TypeNegativeROI,
		MetricName:    "roi_pct",
		CurrentValue:  revenue.InexactFloat64(),
		BaselineValue: spend.InexactFloat64(),
		Deviation:     r,
		Severity:      severity,
		Confidence:    confidence(th.ROIPercent-r, th.ROIPercent-th.ROICriticalPercent),
		Context: map[string]any{
			"roi_pct": r,
			"revenue": revenue.String(),
			"spend":   spend.String(),
			"summary": fmt.Sprintf("ROI at %.1f%%", r),
		},
	}
}

// DetectBudgetOverrun reports spend approaching or exceeding the limit
func DetectBudgetOverrun(spend, limit decimal.Decimal, th Thresholds) *Record {
	if !limit.IsPositive() || spend.IsNegative() {
		return nil
	}

	usage := spend.Mul(hundred).Div(limit)
	if usage.LessThan(dec(th.BudgetPercent)) {
		return nil
	}

	severity := SeverityMedium
	switch {
	case usage.GreaterThanOrEqual(dec(th.BudgetCriticalPercent)):
		severity = SeverityCritical
	case usage.GreaterThanOrEqual(dec(th.BudgetHighPercent)):
		severity = SeverityHigh
	}

	u := usage.InexactFloat64()
	return &Record{
		Type:          TypeBudgetOverrun,
		MetricName:    "budget_usage_pct",
		CurrentValue:  spend.InexactFloat64(),
		BaselineValue: limit.InexactFloat64(),
		Deviation:     u,
		Severity:      severity,
		Confidence:    confidence(u-th.BudgetPercent, th.BudgetCriticalPercent-th.BudgetPercent),
		Context: map[string]any{
			"usage_pct": u,
			"remaining": limit.Sub(spend).String(),
			"summary":   fmt.Sprintf("%.1f%% of budget used", u),
		},
	}
}

// DetectEngagementDrop reports the engagement coefficient falling below its baseline.
// A non-positive baseline counts as 100%: nothing can drop below an undefined reference.
func DetectEngagementDrop(current, baseline decimal.Decimal, th Thresholds) *Record {
	if !baseline.IsPositive() {
		return nil
	}

	pct := current.Div(baseline).Mul(hundred)
	if pct.GreaterThan(dec(th.EngagementPercent)) {
		return nil
	}

	severity := SeverityWarning
	if pct.LessThanOrEqual(dec(th.EngagementCriticalPercent)) {
		severity = SeverityCritical
	}

	p := pct.InexactFloat64()
	return &Record{
		Type:          TypeEngagementDrop,
		MetricName:    "engagement_coefficient",
		CurrentValue:  current.InexactFloat64(),
		BaselineValue: baseline.InexactFloat64(),
		Deviation:     p,
		Severity:      severity,
		Confidence:    confidence(th.EngagementPercent-p, th.EngagementPercent-th.EngagementCriticalPercent),
		Context: map[string]any{
			"current_pct": p,
			"summary":     fmt.Sprintf("engagement at %.0f%% of baseline", p),
		},
	}
}

// DetectPatternFatigue reports a content pattern that has been overused
func DetectPatternFatigue(score decimal.Decimal, th Thresholds) *Record {
	if score.LessThan(dec(th.FatigueScore)) {
		return nil
	}

	severity := SeverityWarning
	switch {
	case score.GreaterThanOrEqual(dec(th.FatigueCriticalScore)):
		severity = SeverityCritical
	case score.GreaterThanOrEqual(dec(th.FatigueHighScore)):
		severity = SeverityHigh
	}

	s := score.InexactFloat64()
	return &Record{
		Type:          TypePatternFatigue,
		MetricName:    "pattern_fatigue_score",
		CurrentValue:  s,
		BaselineValue: th.FatigueScore,
		Deviation:     s,
		Severity:      severity,
		Confidence:    confidence(s-th.FatigueScore, th.FatigueCriticalScore-th.FatigueScore),
		Context: map[string]any{
			"summary": fmt.Sprintf("pattern fatigue score %.2f", s),
		},
	}
}

// confidence maps the distance past the alert threshold onto [0.5, 1],
// reaching 1 at the critical threshold
func confidence(excess, span float64) float64 {
	if span <= 0 {
		return 1
	}
	c := 0.5 + 0.5*excess/span
	switch {
	case c < 0.5:
		return 0.5
	case c > 1:
		return 1
	}
	return c
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

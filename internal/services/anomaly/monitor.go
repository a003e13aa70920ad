package anomalyservice

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"costwatch/internal/domain/anomaly"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

const (
	skipRateLimited = "check rate limited"
	skipNoData      = "no samples recorded for owner"
)

// maxClosedPeriods bounds the unchecked days kept per owner
const maxClosedPeriods = 7

// periodTotals is one UTC day of budget and ROI input
type periodTotals struct {
	start      time.Time
	spend      decimal.Decimal
	revenue    decimal.Decimal
	hasRevenue bool
}

type costSample struct {
	seq    int64
	amount decimal.Decimal
	at     time.Time
}

// ownerState is the rolling view of one owner. Guarded by mu.
type ownerState struct {
	mu sync.Mutex

	costs       []costSample
	seq         int64
	lastChecked int64 // seq of the newest cost sample already evaluated

	efficiency      []decimal.Decimal
	efficiencyFresh bool
	engagement      []decimal.Decimal
	engagementFresh bool
	fatigue         *decimal.Decimal
	fatigueFresh    bool

	// Daily UTC period for budget and ROI
	periodStart   time.Time
	periodSpend   decimal.Decimal
	periodRevenue decimal.Decimal
	hasRevenue    bool
	periodDirty   bool
	// days that ended before a check saw their final totals, oldest first
	closedPeriods []periodTotals

	lastCheckAt time.Time
}

// Monitor keeps per-owner baselines and runs the detector family over them
type Monitor struct {
	cfg Config
	now func() time.Time
	log *logger.Logger

	mu     sync.RWMutex
	owners map[string]*ownerState
}

// NewMonitor creates a new anomaly monitor
func NewMonitor(cfg Config, log *logger.Logger) *Monitor {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 20
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	if log == nil {
		log = logger.Get()
	}
	return &Monitor{
		cfg:    cfg,
		now:    time.Now,
		log:    log.With("component", "anomaly_monitor"),
		owners: make(map[string]*ownerState),
	}
}

// SetClock replaces the time source. Used by tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Observe adds a stored cost to the owner's baseline and budget period
func (m *Monitor) Observe(ownerID string, amount decimal.Decimal, occurredAt time.Time) {
	st := m.state(ownerID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.seq++
	st.costs = append(st.costs, costSample{seq: st.seq, amount: amount, at: occurredAt})
	// newest sample plus a full baseline
	if over := len(st.costs) - (m.cfg.Lookback + 1); over > 0 {
		st.costs = append(st.costs[:0:0], st.costs[over:]...)
	}

	m.rollPeriod(st)
	st.periodSpend = st.periodSpend.Add(amount)
	st.periodDirty = true
}

// RecordSignal feeds a non-cost metric for the owner
func (m *Monitor) RecordSignal(ownerID string, kind SignalKind, value float64) error {
	if ownerID == "" {
		return errors.NewValidationError("owner_id", "required", ownerID)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errors.NewValidationError("value", "must be a finite number", value)
	}
	if value < 0 {
		return errors.NewValidationError("value", "must be non-negative", value)
	}
	if kind == SignalFatigue && value > 1 {
		return errors.NewValidationError("value", "fatigue score must be within [0,1]", value)
	}

	v := decimal.NewFromFloat(value)
	st := m.state(ownerID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch kind {
	case SignalEfficiency:
		st.efficiency = appendBounded(st.efficiency, v, m.cfg.Lookback+1)
		st.efficiencyFresh = true
	case SignalEngagement:
		st.engagement = appendBounded(st.engagement, v, m.cfg.Lookback+1)
		st.engagementFresh = true
	case SignalFatigue:
		st.fatigue = &v
		st.fatigueFresh = true
	case SignalRevenue:
		m.rollPeriod(st)
		st.periodRevenue = st.periodRevenue.Add(v)
		st.hasRevenue = true
		st.periodDirty = true
	default:
		return errors.NewValidationError("signal_kind", "unknown signal", string(kind))
	}
	return nil
}

// Check runs every detector that has fresh input for the owner.
// Checks are gated to one per CheckInterval; consumed samples are never evaluated again.
func (m *Monitor) Check(_ context.Context, ownerID string) *Evaluation {
	now := m.now().UTC()
	eval := &Evaluation{OwnerID: ownerID, CheckedAt: now}

	st := m.state(ownerID, false)
	if st == nil {
		eval.Skipped = true
		eval.SkipReason = skipNoData
		return eval
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.lastCheckAt.IsZero() && now.Sub(st.lastCheckAt) < m.cfg.CheckInterval {
		eval.Skipped = true
		eval.SkipReason = skipRateLimited
		return eval
	}
	st.lastCheckAt = now

	th := m.cfg.Thresholds
	add := func(rec *anomaly.Record) {
		if rec != nil {
			eval.Anomalies = append(eval.Anomalies, rec.ForOwner(ownerID, now))
		}
	}

	add(m.checkCostSpike(st))

	if st.efficiencyFresh && len(st.efficiency) > 1 {
		cur, base := split(st.efficiency)
		add(anomaly.DetectEfficiencyDrop(cur, base, th))
	}
	st.efficiencyFresh = false

	if st.engagementFresh && len(st.engagement) > 1 {
		cur, base := split(st.engagement)
		add(anomaly.DetectEngagementDrop(cur, anomaly.Mean(base), th))
	}
	st.engagementFresh = false

	if st.fatigueFresh && st.fatigue != nil {
		add(anomaly.DetectPatternFatigue(*st.fatigue, th))
	}
	st.fatigueFresh = false

	m.rollPeriod(st)
	limit := m.cfg.budgetFor(ownerID)
	for _, p := range st.closedPeriods {
		for _, rec := range m.checkPeriod(p, limit) {
			rec.Context["period_start"] = p.start
			add(rec)
		}
	}
	st.closedPeriods = nil
	if st.periodDirty {
		for _, rec := range m.checkPeriod(st.currentPeriod(), limit) {
			add(rec)
		}
		st.periodDirty = false
	}

	if len(eval.Anomalies) > 0 {
		m.log.Infow("Anomalies detected",
			"owner_id", ownerID,
			"count", len(eval.Anomalies),
		)
	}
	return eval
}

// Owners returns every owner with recorded data, sorted
func (m *Monitor) Owners() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.owners))
	for id := range m.owners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Baseline returns the owner's cost window, oldest first
func (m *Monitor) Baseline(ownerID string) []decimal.Decimal {
	st := m.state(ownerID, false)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]decimal.Decimal, len(st.costs))
	for i, s := range st.costs {
		out[i] = s.amount
	}
	return out
}

// checkCostSpike evaluates the newest unconsumed sample against the ones before it
func (m *Monitor) checkCostSpike(st *ownerState) *anomaly.Record {
	n := len(st.costs)
	if n == 0 {
		return nil
	}
	newest := st.costs[n-1]
	if newest.seq <= st.lastChecked {
		return nil
	}
	st.lastChecked = newest.seq

	if n-1 < m.cfg.MinSamples {
		return nil
	}
	baseline := make([]decimal.Decimal, 0, n-1)
	for _, s := range st.costs[:n-1] {
		baseline = append(baseline, s.amount)
	}

	rec := anomaly.DetectCostSpike(newest.amount, baseline, m.cfg.Thresholds)
	if rec != nil {
		rec.Context["sample_at"] = newest.at
	}
	return rec
}

// checkPeriod runs the budget and ROI detectors over one day's totals
func (m *Monitor) checkPeriod(p periodTotals, limit float64) []*anomaly.Record {
	th := m.cfg.Thresholds
	var out []*anomaly.Record
	if p.hasRevenue {
		if rec := anomaly.DetectNegativeROI(p.revenue, p.spend, th); rec != nil {
			out = append(out, rec)
		}
	}
	if limit > 0 {
		if rec := anomaly.DetectBudgetOverrun(p.spend, decimal.NewFromFloat(limit), th); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func (st *ownerState) currentPeriod() periodTotals {
	return periodTotals{
		start:      st.periodStart,
		spend:      st.periodSpend,
		revenue:    st.periodRevenue,
		hasRevenue: st.hasRevenue,
	}
}

// rollPeriod starts a new budget and ROI period when the UTC day changes.
// A closing day with unchecked input is kept for the next check.
func (m *Monitor) rollPeriod(st *ownerState) {
	day := m.now().UTC().Truncate(24 * time.Hour)
	if st.periodStart.Equal(day) {
		return
	}
	if st.periodDirty {
		st.closedPeriods = append(st.closedPeriods, st.currentPeriod())
		if over := len(st.closedPeriods) - maxClosedPeriods; over > 0 {
			st.closedPeriods = append(st.closedPeriods[:0:0], st.closedPeriods[over:]...)
		}
	}
	st.periodDirty = false
	st.periodStart = day
	st.periodSpend = decimal.Zero
	st.periodRevenue = decimal.Zero
	st.hasRevenue = false
}

func (m *Monitor) state(ownerID string, create bool) *ownerState {
	m.mu.RLock()
	st, ok := m.owners[ownerID]
	m.mu.RUnlock()
	if ok || !create {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.owners[ownerID]; !ok {
		st = &ownerState{periodSpend: decimal.Zero, periodRevenue: decimal.Zero}
		m.owners[ownerID] = st
	}
	return st
}

func appendBounded(window []decimal.Decimal, v decimal.Decimal, limit int) []decimal.Decimal {
	window = append(window, v)
	if over := len(window) - limit; over > 0 {
		window = append(window[:0:0], window[over:]...)
	}
	return window
}

// split returns the newest value and the values before it
func split(window []decimal.Decimal) (decimal.Decimal, []decimal.Decimal) {
	n := len(window)
	return window[n-1], window[:n-1]
}

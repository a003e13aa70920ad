package mitigationservice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/adapters/channels"
	"costwatch/internal/domain/anomaly"
	"costwatch/internal/domain/mitigation"
	"costwatch/internal/metrics"
	"costwatch/internal/repository/memory"
	redisrepo "costwatch/internal/repository/redis"
	"costwatch/internal/testsupport"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []*Notice
	fail    error
	panics  bool
}

func (n *recordingNotifier) Notify(_ context.Context, notice *Notice) error {
	if n.panics {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.fail
}

// flakyRepo fails the first failures Put calls
type flakyRepo struct {
	mitigation.Repository
	failures atomic.Int32
	puts     atomic.Int32
}

func (r *flakyRepo) Put(ctx context.Context, st *mitigation.State, ttl time.Duration) error {
	r.puts.Add(1)
	if r.failures.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return r.Repository.Put(ctx, st, ttl)
}

type statusSink struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (s *statusSink) Record(_ context.Context, p metrics.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Kind == metrics.KindMitigation {
		s.statuses[p.Action] = p.Status
	}
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.ActionTimeout = 200 * time.Millisecond
	return cfg
}

func severe(owner string, typ anomaly.Type, sev anomaly.Severity, deviation float64) *anomaly.Record {
	return &anomaly.Record{
		Type:       typ,
		MetricName: "cost_per_event",
		Deviation:  deviation,
		Severity:   sev,
		Confidence: 0.9,
		OwnerID:    owner,
		Context:    map[string]any{},
		DetectedAt: time.Now().UTC(),
	}
}

func TestShouldTrigger(t *testing.T) {
	b := NewCircuitBreaker(testConfig(), memory.NewMitigationStateRepository(), &recordingNotifier{}, nil, logger.Nop())

	tests := []struct {
		name string
		rec  *anomaly.Record
		want bool
	}{
		{"critical always", severe("o", anomaly.TypeBudgetOverrun, anomaly.SeverityCritical, 10), true},
		{"spike below ladder", severe("o", anomaly.TypeCostSpike, anomaly.SeverityHigh, 3.72), false},
		{"spike at ladder", severe("o", anomaly.TypeCostSpike, anomaly.SeverityHigh, 4.0), true},
		{"efficiency drop", severe("o", anomaly.TypeEfficiencyDrop, anomaly.SeverityHigh, 0.5), true},
		{"efficiency drop mild", severe("o", anomaly.TypeEfficiencyDrop, anomaly.SeverityMedium, 0.35), false},
		{"roi at ladder", severe("o", anomaly.TypeNegativeROI, anomaly.SeverityMedium, -75), true},
		{"roi above ladder", severe("o", anomaly.TypeNegativeROI, anomaly.SeverityMedium, -60), false},
		{"budget at ladder", severe("o", anomaly.TypeBudgetOverrun, anomaly.SeverityHigh, 90), true},
		{"budget below ladder", severe("o", anomaly.TypeBudgetOverrun, anomaly.SeverityHigh, 88), false},
		{"engagement at ladder", severe("o", anomaly.TypeEngagementDrop, anomaly.SeverityWarning, 50), true},
		{"engagement above ladder", severe("o", anomaly.TypeEngagementDrop, anomaly.SeverityWarning, 65), false},
		{"fatigue at ladder", severe("o", anomaly.TypePatternFatigue, anomaly.SeverityHigh, 0.9), true},
		{"fatigue below ladder", severe("o", anomaly.TypePatternFatigue, anomaly.SeverityWarning, 0.85), false},
		{"nil record", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.ShouldTrigger(tt.rec))
		})
	}
}

func TestExecuteActions_CriticalSpike(t *testing.T) {
	repo := memory.NewMitigationStateRepository()
	notifier := &recordingNotifier{}
	b := NewCircuitBreaker(testConfig(), repo, notifier, nil, logger.Nop())
	ctx := context.Background()

	results := b.ExecuteActions(ctx, severe("owner-1", anomaly.TypeCostSpike, anomaly.SeverityCritical, 5.2))
	require.Len(t, results, len(mitigation.Actions))

	throttle := results[mitigation.ActionThrottle]
	assert.True(t, throttle.Executed)
	assert.Equal(t, "rate factor 0.25", throttle.Detail)
	assert.Equal(t, 1, throttle.Attempts)

	downgrade := results[mitigation.ActionDowngradeTier]
	assert.True(t, downgrade.Executed)
	assert.Equal(t, "gpt-4o -> gpt-4o-mini", downgrade.Detail)

	pause := results[mitigation.ActionPauseUnit]
	assert.False(t, pause.Executed)
	assert.Equal(t, "disabled", pause.Detail)

	notify := results[mitigation.ActionNotifyOperator]
	assert.True(t, notify.Executed)
	assert.Empty(t, notify.Error)

	require.Len(t, notifier.notices, 1)
	notice := notifier.notices[0]
	assert.Equal(t, "owner-1", notice.OwnerID)
	assert.Equal(t, []NoticeAction{
		{Name: "throttle", Detail: "rate factor 0.25"},
		{Name: "downgrade_tier", Detail: "gpt-4o -> gpt-4o-mini"},
	}, notice.Actions)

	states, err := b.State(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "0.25", states[mitigation.ActionThrottle].Value)
	assert.Equal(t, "gpt-4o-mini", states[mitigation.ActionDowngradeTier].Value)
	assert.Equal(t, "cost_spike", states[mitigation.ActionThrottle].AnomalyType)
}

func TestExecuteActions_Idempotent(t *testing.T) {
	repo := memory.NewMitigationStateRepository()
	b := NewCircuitBreaker(testConfig(), repo, &recordingNotifier{}, nil, logger.Nop())
	ctx := context.Background()
	rec := severe("owner-2", anomaly.TypeBudgetOverrun, anomaly.SeverityHigh, 92)

	first := b.ExecuteActions(ctx, rec)
	before, err := b.State(ctx, "owner-2")
	require.NoError(t, err)

	second := b.ExecuteActions(ctx, rec)
	after, err := b.State(ctx, "owner-2")
	require.NoError(t, err)

	for _, action := range mitigation.Actions {
		assert.Equal(t, first[action].Executed, second[action].Executed, action)
		assert.Equal(t, first[action].Detail, second[action].Detail, action)
	}
	require.Len(t, after, len(before))
	for action, st := range before {
		assert.Equal(t, st.Value, after[action].Value, action)
	}
	assert.Equal(t, "0.5", after[mitigation.ActionThrottle].Value)
}

func TestExecuteActions_ThrottleFactorBySeverity(t *testing.T) {
	cases := map[anomaly.Severity]string{
		anomaly.SeverityCritical: "0.25",
		anomaly.SeverityHigh:     "0.5",
		anomaly.SeverityMedium:   "0.75",
		anomaly.SeverityWarning:  "0.75",
	}
	for sev, want := range cases {
		b := NewCircuitBreaker(testConfig(), memory.NewMitigationStateRepository(), &recordingNotifier{}, nil, logger.Nop())
		res := b.ExecuteActions(context.Background(), severe("o", anomaly.TypeCostSpike, sev, 6))
		assert.Equal(t, "rate factor "+want, res[mitigation.ActionThrottle].Detail, sev)
	}
}

func TestExecuteActions_RetriesTransientFailure(t *testing.T) {
	repo := &flakyRepo{Repository: memory.NewMitigationStateRepository()}
	repo.failures.Store(1)
	b := NewCircuitBreaker(testConfig(), repo, &recordingNotifier{}, nil, logger.Nop())

	results := b.ExecuteActions(context.Background(), severe("o", anomaly.TypeCostSpike, anomaly.SeverityCritical, 6))

	throttle := results[mitigation.ActionThrottle]
	assert.True(t, throttle.Executed)
	assert.Equal(t, 2, throttle.Attempts)
	assert.True(t, results[mitigation.ActionDowngradeTier].Executed)
}

func TestExecuteActions_FailureIsIsolated(t *testing.T) {
	repo := &flakyRepo{Repository: memory.NewMitigationStateRepository()}
	repo.failures.Store(1000)
	notifier := &recordingNotifier{}
	b := NewCircuitBreaker(testConfig(), repo, notifier, nil, logger.Nop())

	results := b.ExecuteActions(context.Background(), severe("o", anomaly.TypeCostSpike, anomaly.SeverityCritical, 6))

	throttle := results[mitigation.ActionThrottle]
	assert.False(t, throttle.Executed)
	assert.Equal(t, 3, throttle.Attempts)
	assert.Contains(t, throttle.Error, "max attempts (3) exceeded")
	assert.False(t, results[mitigation.ActionDowngradeTier].Executed)

	notify := results[mitigation.ActionNotifyOperator]
	assert.True(t, notify.Executed, "notification still goes out when state writes fail")
	require.Len(t, notifier.notices, 1)
	assert.Empty(t, notifier.notices[0].Actions)
}

func TestExecuteActions_EmitsOutcomeMetrics(t *testing.T) {
	repo := &flakyRepo{Repository: memory.NewMitigationStateRepository()}
	repo.failures.Store(1000)
	sink := &statusSink{statuses: map[string]string{}}
	b := NewCircuitBreaker(testConfig(), repo, &recordingNotifier{}, metrics.NewEmitter(logger.Nop(), sink), logger.Nop())

	b.ExecuteActions(context.Background(), severe("o", anomaly.TypeCostSpike, anomaly.SeverityCritical, 6))

	assert.Equal(t, map[string]string{
		string(mitigation.ActionThrottle):       metrics.MitigationFailed,
		string(mitigation.ActionDowngradeTier):  metrics.MitigationFailed,
		string(mitigation.ActionPauseUnit):      metrics.MitigationSkipped,
		string(mitigation.ActionNotifyOperator): metrics.MitigationSuccess,
	}, sink.statuses)
}

func TestExecuteActions_RecoversPanic(t *testing.T) {
	b := NewCircuitBreaker(testConfig(), memory.NewMitigationStateRepository(), &recordingNotifier{panics: true}, nil, logger.Nop())

	results := b.ExecuteActions(context.Background(), severe("o", anomaly.TypeCostSpike, anomaly.SeverityCritical, 6))

	notify := results[mitigation.ActionNotifyOperator]
	assert.False(t, notify.Executed)
	assert.Contains(t, notify.Error, "panicked")
	assert.True(t, results[mitigation.ActionThrottle].Executed)
}

func TestExecuteActions_PauseExpires(t *testing.T) {
	cfg := testConfig()
	cfg.PauseEnabled = true
	b := NewCircuitBreaker(cfg, memory.NewMitigationStateRepository(), &recordingNotifier{}, nil, logger.Nop())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })
	ctx := context.Background()

	results := b.ExecuteActions(ctx, severe("o", anomaly.TypeNegativeROI, anomaly.SeverityCritical, -90))
	pause := results[mitigation.ActionPauseUnit]
	require.True(t, pause.Executed)
	assert.Equal(t, "paused until 2024-03-01T13:00:00Z", pause.Detail)

	states, err := b.State(ctx, "o")
	require.NoError(t, err)
	assert.Contains(t, states, mitigation.ActionPauseUnit)

	now = now.Add(61 * time.Minute)
	states, err = b.State(ctx, "o")
	require.NoError(t, err)
	assert.NotContains(t, states, mitigation.ActionPauseUnit)
	assert.Contains(t, states, mitigation.ActionThrottle)
}

func TestExecuteActions_DowngradeUsesContextModel(t *testing.T) {
	b := NewCircuitBreaker(testConfig(), memory.NewMitigationStateRepository(), &recordingNotifier{}, nil, logger.Nop())

	rec := severe("o", anomaly.TypeCostSpike, anomaly.SeverityCritical, 6)
	rec.Context["model"] = "gpt-4-turbo"
	res := b.ExecuteActions(context.Background(), rec)
	assert.Equal(t, "gpt-4-turbo -> gpt-4o-mini", res[mitigation.ActionDowngradeTier].Detail)

	rec.Context["model"] = "gpt-4o-mini"
	res = b.ExecuteActions(context.Background(), rec)
	assert.True(t, res[mitigation.ActionDowngradeTier].Executed)
	assert.Equal(t, "no cheaper tier for gpt-4o-mini", res[mitigation.ActionDowngradeTier].Detail)
}

func TestExecuteActions_RedisState(t *testing.T) {
	client, srv := testsupport.NewRedisClient(t)
	repo := redisrepo.NewMitigationStateRepository(client)
	b := NewCircuitBreaker(testConfig(), repo, &recordingNotifier{}, nil, logger.Nop())
	ctx := context.Background()

	b.ExecuteActions(ctx, severe("owner-r", anomaly.TypeCostSpike, anomaly.SeverityCritical, 7))

	states, err := b.State(ctx, "owner-r")
	require.NoError(t, err)
	assert.Equal(t, "0.25", states[mitigation.ActionThrottle].Value)

	srv.FastForward(25 * time.Hour)
	states, err = b.State(ctx, "owner-r")
	require.NoError(t, err)
	assert.Empty(t, states, "state lapses after its TTL")
}

type captureChannel struct {
	configured bool
	alerts     []*channels.Alert
}

func (c *captureChannel) Name() string     { return channels.NameOperator }
func (c *captureChannel) Configured() bool { return c.configured }

func (c *captureChannel) Send(_ context.Context, a *channels.Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

func TestChannelNotifier(t *testing.T) {
	rec := severe("owner-n", anomaly.TypeCostSpike, anomaly.SeverityCritical, 6)
	notice := &Notice{
		OwnerID:     "owner-n",
		AnomalyType: "cost_spike",
		Severity:    "critical",
		Actions:     []NoticeAction{{Name: "throttle", Detail: "rate factor 0.25"}},
		Record:      rec,
	}

	ch := &captureChannel{configured: true}
	require.NoError(t, NewChannelNotifier(ch, logger.Nop()).Notify(context.Background(), notice))
	require.Len(t, ch.alerts, 1)
	assert.Contains(t, ch.alerts[0].Body, "Circuit breaker tripped for owner-n")
	assert.Contains(t, ch.alerts[0].Body, "- throttle: rate factor 0.25")

	off := &captureChannel{}
	require.NoError(t, NewChannelNotifier(off, logger.Nop()).Notify(context.Background(), notice))
	assert.Empty(t, off.alerts, "unconfigured channel falls back to the log")

	require.NoError(t, NewChannelNotifier(nil, logger.Nop()).Notify(context.Background(), notice))
}

package mitigationservice

import (
	"context"
	"fmt"
	"time"

	"costwatch/internal/adapters/retry"
	"costwatch/internal/domain/anomaly"
	"costwatch/internal/domain/mitigation"
	"costwatch/internal/metrics"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Throttle factors applied to the owner's request rate
const (
	throttleCritical = "0.25"
	throttleHigh     = "0.5"
	throttleDefault  = "0.75"
)

// CircuitBreaker applies automated mitigations for severe anomalies.
// Every action writes an absolute state, so running it twice for the same
// anomaly leaves the system where a single run would.
type CircuitBreaker struct {
	cfg      Config
	repo     mitigation.Repository
	notifier Notifier
	retry    *retry.Middleware
	metrics  *metrics.Emitter
	log      *logger.Logger
	now      func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(
	cfg Config,
	repo mitigation.Repository,
	notifier Notifier,
	emitter *metrics.Emitter,
	log *logger.Logger,
) *CircuitBreaker {
	if log == nil {
		log = logger.Get()
	}
	if notifier == nil {
		notifier = NewChannelNotifier(nil, log)
	}
	return &CircuitBreaker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		retry: retry.New(retry.Config{
			MaxAttempts:    cfg.MaxAttempts,
			InitialDelay:   cfg.RetryBackoff,
			MaxDelay:       cfg.ActionTimeout,
			Strategy:       retry.StrategyExponential,
			Multiplier:     2,
			AttemptTimeout: cfg.ActionTimeout,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
		}),
		metrics: emitter,
		log:     log.With("component", "circuit_breaker"),
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.now = now
}

// ShouldTrigger reports whether rec warrants automated mitigation:
// any critical anomaly, or a breach of the mitigation ladder for its type.
func (b *CircuitBreaker) ShouldTrigger(rec *anomaly.Record) bool {
	if rec == nil {
		return false
	}
	if rec.Severity == anomaly.SeverityCritical {
		return true
	}

	d := rec.Deviation
	switch rec.Type {
	case anomaly.TypeCostSpike:
		return d >= b.cfg.SpikeMultiplier
	case anomaly.TypeEfficiencyDrop:
		return d >= b.cfg.EfficiencyDrop
	case anomaly.TypeNegativeROI:
		return d <= b.cfg.ROIPercent
	case anomaly.TypeBudgetOverrun:
		return d >= b.cfg.BudgetPercent
	case anomaly.TypeEngagementDrop:
		return d <= b.cfg.EngagementPercent
	case anomaly.TypePatternFatigue:
		return d >= b.cfg.FatigueScore
	}
	return false
}

// ExecuteActions runs every mitigation for rec in order. A failing action
// does not stop the others; its error is reported in its result.
func (b *CircuitBreaker) ExecuteActions(ctx context.Context, rec *anomaly.Record) map[mitigation.Action]ActionResult {
	results := make(map[mitigation.Action]ActionResult, len(mitigation.Actions))
	if rec == nil {
		return results
	}

	b.log.Warnw("Circuit breaker tripped",
		"owner_id", rec.OwnerID,
		"anomaly_type", rec.Type,
		"severity", rec.Severity,
		"deviation", rec.Deviation,
	)

	for _, action := range mitigation.Actions {
		res := ActionResult{Action: action}
		if !b.cfg.enabled(action) {
			res.Detail = "disabled"
			results[action] = res
			b.metrics.Emit(ctx, metrics.MitigationAction(string(action), metrics.MitigationSkipped))
			continue
		}

		var detail string
		attempts, err := b.retry.Do(ctx, func(ctx context.Context) error {
			var runErr error
			detail, runErr = b.run(ctx, action, rec, results)
			return runErr
		})
		res.Attempts = attempts
		res.Detail = detail
		if err != nil {
			res.Error = err.Error()
			b.log.Errorw("Mitigation action failed",
				"owner_id", rec.OwnerID,
				"action", action,
				"attempts", attempts,
				"error", err,
			)
			b.metrics.Emit(ctx, metrics.MitigationAction(string(action), metrics.MitigationFailed))
		} else {
			res.Executed = true
			b.metrics.Emit(ctx, metrics.MitigationAction(string(action), metrics.MitigationSuccess))
		}
		results[action] = res
	}
	return results
}

// State returns the mitigations currently in force for owner
func (b *CircuitBreaker) State(ctx context.Context, ownerID string) (map[mitigation.Action]*mitigation.State, error) {
	states, err := b.repo.List(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "load mitigation state for %s", ownerID)
	}
	now := b.now()
	for action, st := range states {
		if !st.Active(now) {
			delete(states, action)
		}
	}
	return states, nil
}

// run executes one attempt of action, converting a panic into an error
func (b *CircuitBreaker) run(
	ctx context.Context,
	action mitigation.Action,
	rec *anomaly.Record,
	done map[mitigation.Action]ActionResult,
) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mitigation %s panicked: %v", action, r)
		}
	}()

	switch action {
	case mitigation.ActionThrottle:
		factor := throttleFactor(rec.Severity)
		return "rate factor " + factor, b.apply(ctx, rec, action, factor, 0)
	case mitigation.ActionDowngradeTier:
		from, to := b.downgradeTarget(rec)
		if to == "" {
			return fmt.Sprintf("no cheaper tier for %s", from), nil
		}
		return from + " -> " + to, b.apply(ctx, rec, action, to, 0)
	case mitigation.ActionPauseUnit:
		until := b.now().Add(b.cfg.PauseDuration).UTC().Format(time.RFC3339)
		return "paused until " + until, b.apply(ctx, rec, action, until, b.cfg.PauseDuration)
	case mitigation.ActionNotifyOperator:
		return "operator notified", b.notify(ctx, rec, done)
	}
	return "", errors.Wrapf(errors.ErrInvalidInput, "unknown mitigation action %s", action)
}

func (b *CircuitBreaker) apply(
	ctx context.Context,
	rec *anomaly.Record,
	action mitigation.Action,
	value string,
	expiry time.Duration,
) error {
	now := b.now()
	state := &mitigation.State{
		OwnerID:     rec.OwnerID,
		Action:      action,
		Value:       value,
		Reason:      fmt.Sprintf("%s %s anomaly", rec.Severity, rec.Type),
		AnomalyType: string(rec.Type),
		Severity:    string(rec.Severity),
		AppliedAt:   now,
	}

	ttl := b.cfg.StateTTL
	if expiry > 0 {
		state.ExpiresAt = now.Add(expiry)
		ttl = expiry
	}

	if err := b.repo.Put(ctx, state, ttl); err != nil {
		return errors.Wrapf(err, "persist %s for %s", action, rec.OwnerID)
	}

	b.log.Infow("Mitigation applied",
		"owner_id", rec.OwnerID,
		"action", action,
		"value", value,
	)
	return nil
}

func (b *CircuitBreaker) notify(ctx context.Context, rec *anomaly.Record, done map[mitigation.Action]ActionResult) error {
	notice := &Notice{
		OwnerID:     rec.OwnerID,
		AnomalyType: string(rec.Type),
		Severity:    string(rec.Severity),
		Record:      rec,
	}
	for _, action := range mitigation.Actions {
		res, ok := done[action]
		if !ok || !res.Executed {
			continue
		}
		notice.Actions = append(notice.Actions, NoticeAction{Name: string(action), Detail: res.Detail})
	}

	if err := b.notifier.Notify(ctx, notice); err != nil {
		return errors.Wrap(err, "notify operator")
	}
	return nil
}

// downgradeTarget maps the model in use to its cheaper tier.
// The model comes from the anomaly context, falling back to the configured default.
func (b *CircuitBreaker) downgradeTarget(rec *anomaly.Record) (from, to string) {
	from = b.cfg.DefaultModel
	if m, ok := rec.Context["model"].(string); ok && m != "" {
		from = m
	}
	return from, b.cfg.DowngradeMap[from]
}

func throttleFactor(sev anomaly.Severity) string {
	switch sev {
	case anomaly.SeverityCritical:
		return throttleCritical
	case anomaly.SeverityHigh:
		return throttleHigh
	default:
		return throttleDefault
	}
}

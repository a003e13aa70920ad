package alerting

import (
	"context"
	"sync"
	"time"

	"costwatch/internal/adapters/channels"
	"costwatch/internal/adapters/retry"
	"costwatch/internal/domain/anomaly"
	"costwatch/internal/metrics"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Router delivers anomalies to the channels mapped for their severity
type Router struct {
	channels map[string]channels.Channel
	cfg      Config
	dedup    Deduplicator
	limiter  RateLimiter
	retry    *retry.Middleware
	metrics  *metrics.Emitter
	log      *logger.Logger
}

// NewRouter creates a new alert router. Nil dedup or limiter fall back to
// in-process implementations.
func NewRouter(
	chs map[string]channels.Channel,
	cfg Config,
	dedup Deduplicator,
	limiter RateLimiter,
	emitter *metrics.Emitter,
	log *logger.Logger,
) *Router {
	if dedup == nil {
		dedup = NewMemoryDeduplicator()
	}
	if limiter == nil {
		limiter = NewMemoryRateLimiter(cfg.RatePerMinute)
	}
	if log == nil {
		log = logger.Get()
	}
	return &Router{
		channels: chs,
		cfg:      cfg,
		dedup:    dedup,
		limiter:  limiter,
		retry: retry.New(retry.Config{
			MaxAttempts:    cfg.MaxAttempts,
			InitialDelay:   cfg.BackoffBase,
			MaxDelay:       cfg.ChannelTimeout,
			Strategy:       retry.StrategyExponential,
			Multiplier:     2,
			AttemptTimeout: cfg.ChannelTimeout,
		}),
		metrics: emitter,
		log:     log.With("component", "alert_router"),
	}
}

// Route returns the ordered channel names for a severity
func (r *Router) Route(severity anomaly.Severity) []string {
	if route, ok := r.cfg.Routes[severity]; ok && len(route) > 0 {
		return route
	}
	return r.cfg.DefaultRoute
}

// Dispatch delivers rec to every routed channel concurrently. It never
// returns an error: every outcome is reported per channel. The dedup claim
// is kept only when at least one channel accepted the alert.
func (r *Router) Dispatch(ctx context.Context, rec *anomaly.Record) *DispatchResult {
	route := r.Route(rec.Severity)
	result := &DispatchResult{
		Routed:     route,
		Deliveries: make(map[string]DeliveryResult, len(route)),
	}

	alert, err := channels.NewAlert(rec)
	if err != nil {
		r.log.Errorw("Failed to render alert", "owner_id", rec.OwnerID, "error", err)
		r.markAll(result, StatusFailed, "render failed: "+err.Error())
		return result
	}

	key := alert.DedupKey()
	claimed, err := r.dedup.Claim(ctx, key, r.cfg.DedupWindow)
	if err != nil {
		// fail open: a lost alert is worse than a duplicate
		r.log.Warnw("Dedup store unavailable, dispatching anyway", "key", key, "error", err)
		claimed = true
	}
	if !claimed {
		result.Suppressed = SuppressedDuplicate
		r.markAll(result, StatusSkipped, "duplicate within dedup window")
		r.log.Debugw("Alert suppressed as duplicate", "key", key)
		return result
	}

	allowed, err := r.limiter.Allow(ctx)
	if err != nil {
		r.log.Warnw("Rate limiter unavailable, dispatching anyway", "error", err)
		allowed = true
	}
	if !allowed {
		// the alert was never sent, so a later one for the same key may go out
		if err := r.dedup.Release(ctx, key); err != nil {
			r.log.Warnw("Failed to release dedup claim", "key", key, "error", err)
		}
		result.Suppressed = SuppressedRateLimited
		r.markAll(result, StatusSkipped, "alert rate limit exceeded")
		r.log.Warnw("Alert suppressed by rate limit", "key", key, "severity", rec.Severity)
		return result
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range route {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res := r.deliver(dctx, name, alert)

			mu.Lock()
			result.Deliveries[name] = res
			mu.Unlock()

			r.metrics.Emit(ctx, metrics.AlertDelivery(name, string(res.Status)))
		}(name)
	}
	wg.Wait()

	if result.Delivered() == 0 {
		// nothing reached a channel, so a retry of the same alert must not be suppressed
		if err := r.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
			r.log.Warnw("Failed to release dedup claim", "key", key, "error", err)
		}
	}

	r.log.Infow("Alert dispatched",
		"key", key,
		"severity", rec.Severity,
		"channels", len(route),
		"delivered", result.Delivered(),
	)
	return result
}

func (r *Router) deliver(ctx context.Context, name string, alert *channels.Alert) DeliveryResult {
	res := DeliveryResult{Channel: name}

	ch, ok := r.channels[name]
	if !ok {
		res.Status = StatusSkipped
		res.Reason = "unknown channel"
		return res
	}
	if !ch.Configured() {
		res.Status = StatusSkipped
		res.Reason = "channel not configured"
		return res
	}

	start := time.Now()
	attempts, err := r.retry.Do(ctx, func(ctx context.Context) error {
		return ch.Send(ctx, alert)
	})
	res.Attempts = attempts
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Status = StatusSuccess
	case errors.Is(err, errors.ErrChannelNotConfigured):
		res.Status = StatusSkipped
		res.Reason = err.Error()
	default:
		res.Status = StatusFailed
		res.Reason = err.Error()
		r.log.Warnw("Alert delivery failed",
			"channel", name,
			"attempts", attempts,
			"error", err,
		)
	}
	return res
}

func (r *Router) markAll(result *DispatchResult, status Status, reason string) {
	for _, name := range result.Routed {
		result.Deliveries[name] = DeliveryResult{Channel: name, Status: status, Reason: reason}
		r.metrics.Emit(context.Background(), metrics.AlertDelivery(name, string(status)))
	}
}

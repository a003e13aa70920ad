package alerting

import (
	"context"
	"time"

	"costwatch/internal/adapters/config"
	"costwatch/internal/domain/anomaly"
)

// Status of one channel delivery
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Suppression explains why a whole dispatch was not delivered
type Suppression string

const (
	SuppressedNone        Suppression = ""
	SuppressedDuplicate   Suppression = "duplicate"
	SuppressedRateLimited Suppression = "rate_limited"
)

// DeliveryResult is the outcome on one channel
type DeliveryResult struct {
	Channel  string        `json:"channel"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// DispatchResult is the outcome of routing one anomaly
type DispatchResult struct {
	Suppressed Suppression               `json:"suppressed,omitempty"`
	Routed     []string                  `json:"routed"`
	Deliveries map[string]DeliveryResult `json:"deliveries"`
}

// Delivered counts successful channel deliveries
func (r *DispatchResult) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Deduplicator claims one alert per key within a window
type Deduplicator interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RateLimiter admits dispatches deployment-wide
type RateLimiter interface {
	Allow(ctx context.Context) (bool, error)
}

// Config holds routing and delivery limits
type Config struct {
	Routes          map[anomaly.Severity][]string
	DefaultRoute    []string
	DedupWindow     time.Duration
	RatePerMinute   int
	ChannelTimeout  time.Duration // per attempt
	MaxAttempts     int
	BackoffBase     time.Duration
	DispatchTimeout time.Duration // whole dispatch, all channels
}

// DefaultConfig returns the production routing table and limits
func DefaultConfig() Config {
	return Config{
		Routes: map[anomaly.Severity][]string{
			anomaly.SeverityCritical: {"slack", "pagerduty", "email"},
			anomaly.SeverityHigh:     {"slack", "pagerduty"},
			anomaly.SeverityMedium:   {"slack"},
			anomaly.SeverityWarning:  {"slack"},
			anomaly.SeverityLow:      {"email"},
			anomaly.SeverityInfo:     {"email"},
		},
		DefaultRoute:    []string{"slack"},
		DedupWindow:     5 * time.Minute,
		RatePerMinute:   10,
		ChannelTimeout:  30 * time.Second,
		MaxAttempts:     3,
		BackoffBase:     time.Second,
		DispatchTimeout: 25 * time.Second,
	}
}

// NewConfig maps the alerting section of the application config
func NewConfig(cfg config.AlertingConfig) Config {
	return Config{
		Routes: map[anomaly.Severity][]string{
			anomaly.SeverityCritical: cfg.RouteCritical,
			anomaly.SeverityHigh:     cfg.RouteHigh,
			anomaly.SeverityMedium:   cfg.RouteMedium,
			anomaly.SeverityWarning:  cfg.RouteMedium,
			anomaly.SeverityLow:      cfg.RouteLow,
			anomaly.SeverityInfo:     cfg.RouteLow,
		},
		DefaultRoute:    cfg.RouteDefault,
		DedupWindow:     cfg.DedupWindow,
		RatePerMinute:   cfg.RateLimitPerMinute,
		ChannelTimeout:  cfg.ChannelTimeout,
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		DispatchTimeout: cfg.DispatchTimeout,
	}
}

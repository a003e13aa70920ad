package retry

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"costwatch/pkg/errors"
)

// Strategy defines the retry strategy
type Strategy string

const (
	// StrategyExponential uses exponential backoff
	StrategyExponential Strategy = "exponential"
	// StrategyLinear uses linear backoff
	StrategyLinear Strategy = "linear"
	// StrategyFixed uses fixed delay
	StrategyFixed Strategy = "fixed"
)

// Config contains retry configuration
type Config struct {
	MaxAttempts    int // total attempts including the first
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Strategy       Strategy
	Multiplier     float64       // For exponential backoff
	AttemptTimeout time.Duration // 0 means no per-attempt deadline

	// Retryable overrides IsRetryable when set
	Retryable func(error) bool
}

// DefaultConfig returns the alert delivery defaults: 3 attempts, 1s·2^n backoff, 30s per attempt
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Strategy:       StrategyExponential,
		Multiplier:     2.0,
		AttemptTimeout: 30 * time.Second,
	}
}

// Middleware provides retry functionality with backoff
type Middleware struct {
	config Config
}

// New creates a new retry middleware
func New(config Config) *Middleware {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.Strategy == "" {
		config.Strategy = StrategyExponential
	}
	if config.Retryable == nil {
		config.Retryable = IsRetryable
	}

	return &Middleware{config: config}
}

// Do executes fn until it succeeds, fails permanently, attempts run out or ctx ends.
// It returns the number of attempts made.
func (m *Middleware) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt < m.config.MaxAttempts; attempt++ {
		err := m.attempt(ctx, fn)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		// Parent deadline is final; a per-attempt timeout is not
		if ctx.Err() != nil {
			return attempt + 1, errors.Wrap(lastErr, "retry cancelled")
		}
		if !m.config.Retryable(err) {
			return attempt + 1, err
		}

		// Don't sleep after last attempt
		if attempt == m.config.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(m.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, errors.Wrap(lastErr, "retry cancelled")
		case <-timer.C:
		}
	}

	return m.config.MaxAttempts, errors.Wrapf(lastErr, "max attempts (%d) exceeded", m.config.MaxAttempts)
}

func (m *Middleware) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.config.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, m.config.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// Delay returns the backoff before the attempt following the given zero-based attempt
func (m *Middleware) Delay(attempt int) time.Duration {
	var delay time.Duration

	switch m.config.Strategy {
	case StrategyExponential:
		// delay = initial * (multiplier ^ attempt)
		delay = time.Duration(float64(m.config.InitialDelay) * math.Pow(m.config.Multiplier, float64(attempt)))
	case StrategyLinear:
		delay = m.config.InitialDelay * time.Duration(1+attempt)
	default:
		delay = m.config.InitialDelay
	}

	if delay > m.config.MaxDelay {
		delay = m.config.MaxDelay
	}
	return delay
}

// IsRetryable reports whether err is transient: network failures, timeouts,
// 429 and 5xx responses
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var delivery *errors.ChannelDeliveryError
	if errors.As(err, &delivery) {
		return delivery.Transient
	}

	// A per-attempt deadline is a timeout of that attempt only
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, msg := range retryableMessages {
		if strings.Contains(errStr, msg) {
			return true
		}
	}
	return false
}

// IsRetryableStatus classifies an HTTP status code
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= 500
}

var retryableMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
}

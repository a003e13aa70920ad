package retry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Strategy:     StrategyExponential,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	m := New(fastConfig())
	calls := 0

	attempts, err := m.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &errors.ChannelDeliveryError{Channel: "slack", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_PermanentFailureStopsImmediately(t *testing.T) {
	m := New(fastConfig())

	attempts, err := m.Do(context.Background(), func(context.Context) error {
		return &errors.ChannelDeliveryError{Channel: "slack", StatusCode: 400, Err: errors.New("bad request")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, errors.ErrChannelDelivery))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	m := New(fastConfig())

	attempts, err := m.Do(context.Background(), func(context.Context) error {
		return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max attempts")
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	cfg := fastConfig()
	cfg.AttemptTimeout = 5 * time.Millisecond
	m := New(cfg)

	attempts, err := m.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ParentCancellationStops(t *testing.T) {
	m := New(Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts, err := m.Do(ctx, func(context.Context) error {
		return errors.Wrap(errors.ErrTimeout, "upstream")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDelay_Exponential(t *testing.T) {
	m := New(Config{InitialDelay: time.Second, MaxDelay: time.Minute})
	assert.Equal(t, time.Second, m.Delay(0))
	assert.Equal(t, 2*time.Second, m.Delay(1))
	assert.Equal(t, 4*time.Second, m.Delay(2))
	assert.Equal(t, time.Minute, m.Delay(10))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(429))
	assert.True(t, IsRetryableStatus(500))
	assert.True(t, IsRetryableStatus(503))
	assert.False(t, IsRetryableStatus(400))
	assert.False(t, IsRetryableStatus(401))
	assert.False(t, IsRetryableStatus(404))
}

func TestDo_CustomRetryable(t *testing.T) {
	cfg := fastConfig()
	cfg.Retryable = func(error) bool { return true }
	m := New(cfg)

	attempts, err := m.Do(context.Background(), func(context.Context) error {
		return errors.New("write rejected")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

package config

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/pkg/errors"
)

func TestProcess_Defaults(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 20, cfg.Detection.BaselineLookback)
	assert.Equal(t, 3.0, cfg.Detection.SpikeMultiplier)
	assert.Equal(t, 30*time.Second, cfg.Detection.CheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.Alerting.DedupWindow)
	assert.Equal(t, 10, cfg.Alerting.RateLimitPerMinute)
	assert.Equal(t, []string{"slack", "pagerduty", "email"}, cfg.Alerting.RouteCritical)
	assert.False(t, cfg.Mitigation.PauseEnabled)
	assert.Equal(t, 60*time.Minute, cfg.Mitigation.PauseDuration)
}

func TestProcess_OwnerLimits(t *testing.T) {
	t.Setenv("BUDGET_DEFAULT_LIMIT_USD", "100")
	t.Setenv("BUDGET_OWNER_LIMITS", "alice:250, bob:10.5")

	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	assert.Equal(t, 250.0, cfg.Detection.BudgetLimit("alice"))
	assert.Equal(t, 10.5, cfg.Detection.BudgetLimit("bob"))
	assert.Equal(t, 100.0, cfg.Detection.BudgetLimit("carol"))
}

func TestOwnerLimits_DecodeRejectsGarbage(t *testing.T) {
	var limits OwnerLimits
	err := limits.Decode("alice=250")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	err = limits.Decode("alice:-3")
	require.Error(t, err)
}

func TestValidate_UnknownBackends(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	cfg.Store.Backend = "cassandra"
	cfg.Metrics.Backend = "statsd"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	var multi *errors.MultiError
	require.True(t, errors.As(err, &multi))
	assert.Len(t, multi.Errors, 2)
}

func TestProcess_DowngradeMap(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))
	assert.Equal(t, "gpt-4o-mini", cfg.Mitigation.DowngradeMap["gpt-4o"])

	t.Setenv("MITIGATION_DOWNGRADE_MAP", "big=small, medium = tiny")
	require.NoError(t, envconfig.Process("", &cfg))
	assert.Equal(t, ModelMap{"big": "small", "medium": "tiny"}, cfg.Mitigation.DowngradeMap)

	var m ModelMap
	assert.True(t, errors.Is(m.Decode("big:small"), errors.ErrConfiguration))
}

func TestValidate_RedisCacheNeedsRedis(t *testing.T) {
	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))

	cfg.Cache.Backend = "redis"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ENABLED")

	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
}

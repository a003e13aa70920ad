package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/adapters/config"
	"costwatch/internal/testsupport"
	"costwatch/pkg/errors"
)

func TestRistretto_SetGetDelete(t *testing.T) {
	c, err := NewRistretto(1 << 20)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "breakdown:u1:3", []byte(`{"total":"0.06"}`), time.Minute))
	c.Wait()

	data, ok, err := c.Get(ctx, "breakdown:u1:3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"total":"0.06"}`, string(data))

	require.NoError(t, c.Delete(ctx, "breakdown:u1:3"))
	_, ok, _ = c.Get(ctx, "breakdown:u1:3")
	assert.False(t, ok)
}

func TestRedis_SetGetDelete(t *testing.T) {
	client, srv := testsupport.NewRedisClient(t)
	c := NewRedis(client, "cache:")
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, srv.Exists("cache:k"))

	data, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(data))

	srv.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_SelectsBackend(t *testing.T) {
	c, err := New(config.CacheConfig{Backend: "none"}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	_, err = New(config.CacheConfig{Backend: "redis"}, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	c, err = New(config.CacheConfig{Backend: "ristretto", MaxCostBytes: 1 << 20}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Ristretto{}, c)
}

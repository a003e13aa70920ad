package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"costwatch/pkg/errors"
)

// Lua script for token bucket algorithm (atomic operation)
// KEYS[1] = token bucket key
// ARGV[1] = rate (tokens per second)
// ARGV[2] = burst (max tokens)
// ARGV[3] = current timestamp (seconds, fractional)
// Returns: 1 if allowed, 0 if denied
const luaTokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])

if not tokens then
    tokens = burst
    last_update = now
end

local elapsed = math.max(0, now - last_update)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1.0 then
    tokens = tokens - 1.0
    allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_update', tostring(now))
redis.call('EXPIRE', key, 3600)

return allowed
`

// RateLimiter is a deployment-wide token bucket shared through Redis
type RateLimiter struct {
	client *redis.Client
	key    string
	rate   float64 // tokens per second
	burst  int
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter allows perMinute events per minute with a burst of perMinute
func NewRateLimiter(client *redis.Client, name string, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		client: client,
		key:    "rate_limit:" + name,
		rate:   float64(perMinute) / 60.0,
		burst:  perMinute,
		script: redis.NewScript(luaTokenBucketScript),
		now:    time.Now,
	}
}

// Allow consumes one token if available
func (l *RateLimiter) Allow(ctx context.Context) (bool, error) {
	now := float64(l.now().UnixNano()) / float64(time.Second)

	result, err := l.script.Run(ctx, l.client, []string{l.key}, l.rate, l.burst, now).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis rate limiter %s", l.key)
	}
	return result == 1, nil
}

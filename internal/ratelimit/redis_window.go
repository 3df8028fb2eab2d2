package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindow is a sliding-window limiter over a Redis sorted set, for
// deployments where several orchestrator replicas share one external-API
// quota. Check-and-consume runs in a single Lua script so concurrent
// replicas cannot both take the last slot.
type RedisWindow struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisWindow constructs a distributed window limiter.
func NewRedisWindow(client *redis.Client, maxRequests int, window time.Duration) *RedisWindow {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisWindow{client: client, max: maxRequests, window: window}
}

// Check consumes one slot for the key if available.
func (w *RedisWindow) Check(ctx context.Context, key string) (Decision, error) {
	return w.run(ctx, checkScript, key, uuid.NewString())
}

// Status reads the key's quota state without consuming.
func (w *RedisWindow) Status(ctx context.Context, key string) (Decision, error) {
	return w.run(ctx, statusScript, key, "")
}

func (w *RedisWindow) run(ctx context.Context, script *redis.Script, key, member string) (Decision, error) {
	now := time.Now()
	res, err := script.Run(ctx, w.client, []string{"ratelimit:" + key},
		w.max, w.window.Milliseconds(), now.UnixMilli(), member).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script result: %T", res)
	}
	allowed := toInt64(arr[0]) == 1
	count := int(toInt64(arr[1]))
	resetAt := time.UnixMilli(toInt64(arr[2]))

	d := Decision{
		Allowed:   allowed,
		Count:     count,
		Remaining: w.max - count,
		ResetAt:   resetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = ceilSeconds(resetAt.Sub(now))
	}
	return d, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

var checkScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
  allowed = 1
  redis.call('ZADD', key, now, member)
  count = count + 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then reset = tonumber(oldest[2]) + window end
return {allowed, count, reset}
`)

var statusScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then allowed = 1 end

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then reset = tonumber(oldest[2]) + window end
return {allowed, count, reset}
`)

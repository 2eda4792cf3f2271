package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailroom/internal/pkg/logger"
)

// Limits bounds how fast one transport may be driven.
type Limits struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

// DefaultLimits carries the per-provider send ceilings.
var DefaultLimits = map[string]Limits{
	"sparkpost": {PerSecond: 100, PerMinute: 5000, PerDay: 15_000_000},
	"ses":       {PerSecond: 500, PerMinute: 30000, PerDay: 25_000_000},
}

// Lua keeps check-then-increment atomic across the three windows; a plain
// GET/INCR sequence would over-admit under concurrent workers.
const multiWindowScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])
local secondTTL = tonumber(ARGV[5])
local minuteTTL = tonumber(ARGV[6])
local dailyTTL = tonumber(ARGV[7])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if minCurrent + increment > minuteLimit then
    return {0, 2, minCurrent}
end
if dayCurrent + increment > dailyLimit then
    return {0, 3, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, secondTTL)
end

local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end

local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, dailyTTL)
end

return {1, 0, newDay}
`

// ErrDailyLimit is wrapped into the error returned when a transport's daily
// ceiling is exhausted; waiting within the process will not help.
var ErrDailyLimit = fmt.Errorf("daily send limit exceeded")

// RateLimiter throttles transport usage with Redis-backed counters so the
// ceiling holds across every process sharing the Redis instance.
type RateLimiter struct {
	redis  *redis.Client
	limits map[string]Limits
	script *redis.Script
}

// NewRateLimiter creates a limiter over an existing Redis client. A nil
// limits map falls back to DefaultLimits.
func NewRateLimiter(client *redis.Client, limits map[string]Limits) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &RateLimiter{
		redis:  client,
		limits: limits,
		script: redis.NewScript(multiWindowScript),
	}
}

// NewRateLimiterFromURL connects to Redis and verifies the connection.
func NewRateLimiterFromURL(redisURL string, limits map[string]Limits) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("rate limiter connected", "redis", opts.Addr)
	return NewRateLimiter(client, limits), nil
}

// Acquire atomically reserves n sends for the transport. When denied it
// returns the suggested wait before retrying. A transport without
// configured limits is unthrottled.
func (r *RateLimiter) Acquire(ctx context.Context, transport string, n int) (allowed bool, wait time.Duration, err error) {
	limits, ok := r.limits[transport]
	if !ok {
		return true, 0, nil
	}

	now := time.Now()
	secondKey := fmt.Sprintf("ratelimit:%s:sec:%d", transport, now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:%s:min:%d", transport, now.Unix()/60)
	dailyKey := fmt.Sprintf("ratelimit:%s:day:%s", transport, now.Format("2006-01-02"))

	result, err := r.script.Run(ctx, r.redis,
		[]string{secondKey, minuteKey, dailyKey},
		n,
		limits.PerSecond,
		limits.PerMinute,
		limits.PerDay,
		2,     // second window TTL
		120,   // minute window TTL
		90000, // daily window TTL, 25h to ride out clock skew
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1:
		return false, time.Second, nil
	case 2:
		return false, time.Duration(60-now.Second()) * time.Second, nil
	default:
		return false, 0, fmt.Errorf("%w: transport %s", ErrDailyLimit, transport)
	}
}

// Usage returns current window counters and ceilings for a transport.
func (r *RateLimiter) Usage(ctx context.Context, transport string) (map[string]int64, error) {
	limits, ok := r.limits[transport]
	if !ok {
		return nil, fmt.Errorf("no limits configured for transport %s", transport)
	}

	now := time.Now()
	pipe := r.redis.Pipeline()
	secCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:%s:sec:%d", transport, now.Unix()))
	minCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:%s:min:%d", transport, now.Unix()/60))
	dayCmd := pipe.Get(ctx, fmt.Sprintf("ratelimit:%s:day:%s", transport, now.Format("2006-01-02")))
	_, _ = pipe.Exec(ctx)

	sec, _ := secCmd.Int64()
	min, _ := minCmd.Int64()
	day, _ := dayCmd.Int64()

	return map[string]int64{
		"second_current": sec,
		"second_limit":   int64(limits.PerSecond),
		"minute_current": min,
		"minute_limit":   int64(limits.PerMinute),
		"daily_current":  day,
		"daily_limit":    int64(limits.PerDay),
	}, nil
}

// Client exposes the underlying Redis client for components sharing the
// connection, such as the sweep lock.
func (r *RateLimiter) Client() *redis.Client {
	return r.redis
}

// Close releases the Redis connection.
func (r *RateLimiter) Close() error {
	return r.redis.Close()
}

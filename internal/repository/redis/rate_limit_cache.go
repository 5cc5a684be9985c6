package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"noria-api/internal/client"
	"noria-api/internal/ratelimit"
)

const rateLimitPrefix = "rate_limit:"

// Scores are milliseconds. Entries at or before ARGV[2] are expired; a
// rejected call leaves the set untouched apart from that purge.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cutoff = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)
if count >= limit then
	return {0, count}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window_ms)
return {1, count + 1}
`)

var remainingScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]))
return redis.call('ZCARD', KEYS[1])
`)

// RateLimitCache is a sliding-window limiter shared by every replica that
// talks to the same Redis. Each key is a sorted set of admission times.
//
// Scores come from the wall clock because replicas share no monotonic origin,
// so hosts need reasonably synchronised clocks.
type RateLimitCache struct {
	client        *client.RedisClient
	name          string
	limit         int
	windowSeconds int
	window        time.Duration
	failOpen      bool
	now           func() time.Time
	timeout       time.Duration
	logger        *zap.Logger
}

type RateLimitOption func(*RateLimitCache)

// WithFailOpen admits requests while Redis is unreachable when true, and rejects them when false.
func WithFailOpen(failOpen bool) RateLimitOption {
	return func(c *RateLimitCache) { c.failOpen = failOpen }
}

func WithNow(now func() time.Time) RateLimitOption {
	return func(c *RateLimitCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) RateLimitOption {
	return func(c *RateLimitCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRateLimitCache builds a Redis limiter whose keys live under rate_limit:<name>:.
func NewRateLimitCache(client *client.RedisClient, name string, limit, windowSeconds int, opts ...RateLimitOption) (*RateLimitCache, error) {
	if err := ratelimit.ValidateSettings(limit, windowSeconds); err != nil {
		return nil, err
	}

	c := &RateLimitCache{
		client:        client,
		name:          name,
		limit:         limit,
		windowSeconds: windowSeconds,
		window:        time.Duration(windowSeconds) * time.Second,
		failOpen:      true,
		now:           time.Now,
		timeout:       2 * time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *RateLimitCache) Limit() int { return c.limit }

func (c *RateLimitCache) WindowSeconds() int { return c.windowSeconds }

func (c *RateLimitCache) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	nowMs := c.now().UnixMilli()
	cutoff := nowMs - c.window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	res, err := c.client.RunScript(ctx, slidingWindowScript, []string{c.redisKey(key)},
		nowMs, cutoff, c.limit, c.window.Milliseconds(), member)
	if err != nil {
		c.logger.Error("Sliding window rate limit failed",
			zap.String("limiter", c.name),
			zap.String("key", key),
			zap.Bool("fail_open", c.failOpen),
			zap.Error(err))
		return c.failOpen
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		c.logger.Error("Unexpected sliding window script result",
			zap.String("limiter", c.name),
			zap.Any("result", res))
		return c.failOpen
	}

	allowed, _ := values[0].(int64)
	return allowed == 1
}

func (c *RateLimitCache) Remaining(key string) int {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cutoff := c.now().UnixMilli() - c.window.Milliseconds()
	res, err := c.client.RunScript(ctx, remainingScript, []string{c.redisKey(key)}, cutoff)
	if err != nil {
		c.logger.Error("Failed to read rate limit remaining",
			zap.String("limiter", c.name),
			zap.String("key", key),
			zap.Error(err))
		if c.failOpen {
			return c.limit
		}
		return 0
	}

	count, _ := res.(int64)
	remaining := c.limit - int(count)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset forgets every admission recorded for key.
func (c *RateLimitCache) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.redisKey(key)); err != nil {
		return fmt.Errorf("failed to reset rate limit for %s: %w", key, err)
	}
	return nil
}

func (c *RateLimitCache) redisKey(key string) string {
	return rateLimitPrefix + c.name + ":" + key
}

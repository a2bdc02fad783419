// Package ratelimit throttles calls to external provider APIs.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter enforces a per-key request rate across all worker
// instances using a Redis sorted set. Without Redis it fails open: provider
// quotas then rely on the provider's own 429 responses.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	rate   int
	window time.Duration
	burst  int
}

func NewSlidingWindowLimiter(redisClient *redis.Client, requestsPerSecond, burst int) *SlidingWindowLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst < 0 {
		burst = 0
	}
	return &SlidingWindowLimiter{
		redis:  redisClient,
		rate:   requestsPerSecond,
		window: time.Second,
		burst:  burst,
	}
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// Allow reports whether a call may proceed now and, if not, how long to wait
// before the window frees up.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil {
		return true, 0
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis,
		[]string{fmt.Sprintf("ratelimit:%s", key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.rate+l.burst,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		// Redis trouble must not stall provider traffic.
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// Wait blocks until the limiter admits a call or the context ends.
func (l *SlidingWindowLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, wait := l.Allow(ctx, key)
		if allowed {
			return nil
		}
		if wait <= 0 {
			wait = l.window
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

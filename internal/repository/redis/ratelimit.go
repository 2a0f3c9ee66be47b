package redis

import (
	"context"
	"fmt"
	"time"
)

const rateLimitPrefix = "ratelimit:"

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts requests per caller in fixed one-minute windows
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	burst             int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
	}
}

// Allow records a request for key and reports whether it fits the window
func (r *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	windowStart := now.Truncate(time.Minute)
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())

	pipe := r.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	limit := r.requestsPerMinute + r.burst
	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(time.Minute),
	}, nil
}

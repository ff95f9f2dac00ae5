// Package ratelimit throttles clients of the operation surface with a fixed
// window counter.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "intervia:rl:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Noop allows every request.
type Noop struct{}

func (Noop) Allow(_ context.Context, _ string, limit int, _ time.Duration) (Decision, error) {
	return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
}

// RedisLimiter counts requests per key in windows aligned to multiples of
// the window length, so every instance sharing the Redis database sees the
// same buckets.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(addr, password string, db int, now func() time.Time) (*RedisLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiter{client: client, now: now}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	bucket, resetAt := windowBucket(key, window, r.now())

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		count = p.Incr(ctx, bucket)
		// the bucket outlives its window briefly so late increments still expire
		p.PExpireAt(ctx, bucket, resetAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return decide(count.Val(), limit, resetAt), nil
}

// Close releases the Redis connection pool.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

// windowBucket names the counter of the window containing now and returns
// the instant that window ends.
func windowBucket(key string, window time.Duration, now time.Time) (string, time.Time) {
	if window <= 0 {
		window = time.Second
	}
	start := now.Truncate(window)
	return keyPrefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10), start.Add(window)
}

func decide(count int64, limit int, resetAt time.Time) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

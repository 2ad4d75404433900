// Package ratelimit keeps chat sends in check: a fixed-window counter per
// user and one-shot idempotency keys, both stored in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	limitPrefix = "rl:send:"
	idemPrefix  = "idem:send:"
)

// Limiter is a fixed-window send counter.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

// NewLimiter allows limit sends per key within each window.
func NewLimiter(rdb *redis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Allow counts one send for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := limitPrefix + key
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count send: %w", err)
	}
	return incr.Val() <= l.limit, nil
}

// Idempotency remembers client send keys for ttl.
type Idempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotency creates a guard whose keys expire after ttl.
func NewIdempotency(rdb *redis.Client, ttl time.Duration) *Idempotency {
	return &Idempotency{rdb: rdb, ttl: ttl}
}

// Claim returns true the first time key is seen within the TTL.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := i.rdb.SetNX(ctx, idemPrefix+key, "1", i.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Release forgets key so the next Claim succeeds again.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	if err := i.rdb.Del(ctx, idemPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// Package ratelimit implements fixed-window request throttling over the
// shared KeyValueStore. Correctness under concurrency rests entirely on the
// backend's atomic increment; no application-level locking is involved.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// FixedWindowLimiter counts requests per principal in fixed windows. The
// counter key carries the window TTL; when the TTL elapses the window resets.
type FixedWindowLimiter struct {
	store service.KeyValueStore
	log   logger.Logger
	now   func() time.Time
}

// NewFixedWindowLimiter creates a limiter over the given store.
func NewFixedWindowLimiter(store service.KeyValueStore, log logger.Logger) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store: store,
		log:   log.WithComponent("ratelimit"),
		now:   time.Now,
	}
}

// CheckAndConsume consumes one request from the principal's window budget.
// A window that is already exhausted is reported denied without incrementing
// further, so retries are idempotent. The returned error is non-nil only for
// infrastructure faults; callers treat those as fail-closed denials.
func (l *FixedWindowLimiter) CheckAndConsume(ctx context.Context, principalID string, limit int, window time.Duration) (service.Decision, error) {
	now := l.now()
	key := constants.CacheKeyPrefixRateLimit + principalID

	// Exhausted windows short-circuit before the increment so hammering a
	// denied key cannot extend or inflate the counter.
	if current, err := l.currentCount(ctx, key); err != nil {
		return service.Decision{}, err
	} else if current >= int64(limit) {
		return service.Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   l.resetAt(ctx, key, now, window),
		}, nil
	}

	count, err := l.store.Increment(ctx, key, window)
	if err != nil {
		return service.Decision{}, err
	}

	// Concurrent callers may race past the pre-check; the post-increment
	// value is authoritative, so at most `limit` calls observe allowed.
	if count > int64(limit) {
		return service.Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   l.resetAt(ctx, key, now, window),
		}, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return service.Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   l.resetAt(ctx, key, now, window),
	}, nil
}

func (l *FixedWindowLimiter) currentCount(ctx context.Context, key string) (int64, error) {
	val, err := l.store.Get(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	n, parseErr := strconv.ParseInt(val, 10, 64)
	if parseErr != nil {
		// A corrupted counter is treated as an empty window rather than a
		// denial; the next increment overwrites it.
		l.log.Warn(ctx, "rate limit counter unparsable, treating window as fresh",
			logger.String("counter_key", key))
		return 0, nil
	}
	return n, nil
}

var _ service.RateLimiter = (*FixedWindowLimiter)(nil)

// resetAt derives the window reset time from the counter's remaining TTL.
// Any absent or implausible duration (non-positive, or longer than the
// configured window) normalizes to now + window.
func (l *FixedWindowLimiter) resetAt(ctx context.Context, key string, now time.Time, window time.Duration) int64 {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 || ttl > window {
		return now.Add(window).Unix()
	}
	return now.Add(ttl).Unix()
}

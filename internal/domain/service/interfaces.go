// Package service defines the domain service contracts of the Gatekeeper
// engine: the shared key-value cache, the key validator, and the rate limiter.
package service

import (
	"context"
	"time"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/pkg/constants"
)

// KeyValueStore is the shared, TTL-based cache used for validation verdicts
// and rate-limit counters. It is always injected explicitly; no component
// reaches for a process-wide singleton.
type KeyValueStore interface {
	// Get returns the value for key, or errors.ErrNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)

	// PutWithTTL stores a value that expires after ttl.
	PutWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically increments the counter at key and returns the new
	// value. A counter created by the increment is given the ttl; the ttl of
	// an existing counter is left untouched. Atomicity across concurrent
	// callers is the backend's guarantee.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key. Backends that cannot report
	// a remaining duration return errors.ErrNotFound; callers must treat any
	// implausible value as absent and normalize.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Verdict is the outcome of validating a secret against a required key type.
// Denials are values, not errors; Key is nil unless Valid.
type Verdict struct {
	Valid bool           `json:"valid"`
	Key   *models.APIKey `json:"key,omitempty"`
	// Message is the machine-stable denial text, empty on success.
	Message string `json:"message,omitempty"`
	// ErrorCode classifies the denial (invalid_key, ip_denied, ...).
	ErrorCode string `json:"error_code,omitempty"`
}

// KeyValidator validates secrets, consulting the cache before the store.
type KeyValidator interface {
	Validate(ctx context.Context, secret string, keyType constants.KeyType, callerIP string) Verdict
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	// ResetAt is the Unix time (seconds) at which the window resets. Always
	// at or after the time of the check.
	ResetAt int64 `json:"reset_at"`
}

// RetryAfter returns the seconds a denied caller should wait, never negative.
func (d Decision) RetryAfter(now time.Time) int {
	secs := d.ResetAt - now.Unix()
	if secs < 0 {
		return 0
	}
	return int(secs)
}

// RateLimiter enforces a fixed request-count window per principal.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, principalID string, limit int, window time.Duration) (Decision, error)
}

// Package constants defines shared constants for the Gatekeeper service:
// key types, HTTP header contracts, cache key prefixes, and lifecycle defaults.
package constants

import "time"

// KeyType is the capability class of an API key. It determines which header
// carries the secret and which default rate limit applies.
type KeyType string

const (
	// KeyTypeShop is a customer-facing storefront key.
	KeyTypeShop KeyType = "shop"
	// KeyTypeAdmin is a management-surface key.
	KeyTypeAdmin KeyType = "admin"
)

// Valid reports whether the key type is one of the closed set.
func (t KeyType) Valid() bool {
	return t == KeyTypeShop || t == KeyTypeAdmin
}

// Header returns the request header that carries secrets of this key type.
func (t KeyType) Header() string {
	if t == KeyTypeAdmin {
		return HeaderAdminKey
	}
	return HeaderStorefrontKey
}

// SecretPrefix returns the issuance prefix for secrets of this key type.
func (t KeyType) SecretPrefix() string {
	if t == KeyTypeAdmin {
		return "ak_live_"
	}
	return "sk_live_"
}

// DefaultRateLimit returns the per-window request limit applied when a key
// is issued without an explicit limit.
func (t KeyType) DefaultRateLimit() int {
	if t == KeyTypeAdmin {
		return DefaultAdminRateLimit
	}
	return DefaultShopRateLimit
}

// KeyStatus is the lifecycle status of an API key.
type KeyStatus string

const (
	// KeyStatusActive means the key may authenticate, subject to expiry and IP checks.
	KeyStatusActive KeyStatus = "active"
	// KeyStatusInactive means the key was deactivated or its deprecation grace ended.
	KeyStatusInactive KeyStatus = "inactive"
	// KeyStatusTombstoned means the key was soft-deleted for audit retention.
	KeyStatusTombstoned KeyStatus = "tombstoned"
)

// HTTP header contracts.
const (
	HeaderStorefrontKey = "X-STOREFRONT-KEY"
	HeaderAdminKey      = "X-Admin-Key"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Error codes emitted in structured denial bodies.
const (
	ErrorCodeMissingKey        = "missing_key"
	ErrorCodeInvalidKey        = "invalid_key"
	ErrorCodeIPDenied          = "ip_denied"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeUnavailable       = "service_unavailable"
)

// Cache key prefixes. The validation cache and rate-limit counters share one
// backend, so every Gatekeeper entry is namespaced.
const (
	CacheKeyPrefixValidation = "gatekeeper:validate:"
	CacheKeyPrefixRateLimit  = "gatekeeper:ratelimit:"
)

// Lifecycle and throttling defaults.
const (
	// DefaultValidationCacheTTL bounds the staleness window of cached verdicts.
	DefaultValidationCacheTTL = 5 * time.Minute

	// DefaultRateLimitWindow is the fixed counter window.
	DefaultRateLimitWindow = time.Minute

	DefaultShopRateLimit  = 600
	DefaultAdminRateLimit = 120

	// DefaultKeyExpiryMonths is applied to keys minted by rotation.
	DefaultKeyExpiryMonths = 12

	// DefaultTransitionDays is the grace window a rotated key stays usable.
	DefaultTransitionDays = 7
)

// Context keys used to hand the authenticated principal and the rate-limit
// decision to downstream handlers.
const (
	ContextKeyPrincipal         = "gatekeeper.principal"
	ContextKeyRateLimitDecision = "gatekeeper.ratelimit"
	ContextKeyRequestID         = "gatekeeper.request_id"
)

// Package models defines the persisted domain entities of the Gatekeeper
// service.
package models

import (
	"net"
	"time"

	"github.com/merchware/gatekeeper/pkg/constants"
)

// APIKey is the persisted record of an issued key. It is the source of truth
// for validity, type, limits, IP allowlist, and rotation lineage.
type APIKey struct {
	// ID is the unique identifier of the key.
	ID string `gorm:"primaryKey" json:"id"`
	// Name is the human label assigned at issuance.
	Name string `gorm:"not null" json:"name"`
	// Secret is the opaque credential. Globally unique and immutable.
	Secret string `gorm:"uniqueIndex;not null" json:"-"`
	// KeyType is the capability class (shop or admin). Immutable.
	KeyType constants.KeyType `gorm:"index;not null" json:"key_type"`
	// Status is the lifecycle status (active, inactive, tombstoned).
	Status constants.KeyStatus `gorm:"index;not null;default:active" json:"status"`
	// RateLimit is the request budget per fixed window. Always positive.
	RateLimit int `gorm:"not null" json:"rate_limit"`
	// AllowedIPs restricts callers when non-empty. Loopback is always allowed.
	AllowedIPs []string `gorm:"serializer:json" json:"allowed_ips,omitempty"`
	// ExpiresAt is the optional hard expiry, judged live at validation time.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// LastUsedAt records the most recent successful validation. Best-effort.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	// DeprecationDate is set when the key is rotated; the key stays usable
	// through this grace window, then a sweep flips it inactive.
	DeprecationDate *time.Time `json:"deprecation_date,omitempty"`
	// RotatedFromID points at the predecessor in the rotation chain.
	RotatedFromID *string `gorm:"index" json:"rotated_from_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the gorm table name explicit.
func (APIKey) TableName() string { return "api_keys" }

// IsExpired reports whether the key's hard expiry has passed.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// IsDeprecated reports whether the key's deprecation grace window has ended.
func (k *APIKey) IsDeprecated(now time.Time) bool {
	return k.DeprecationDate != nil && !now.Before(*k.DeprecationDate)
}

// IsDeprecating reports whether the key has been rotated but is still inside
// its transition window.
func (k *APIKey) IsDeprecating(now time.Time) bool {
	return k.DeprecationDate != nil && now.Before(*k.DeprecationDate)
}

// IsValid reports whether the key may authenticate right now: active, not
// tombstoned, and not past its expiry. A key inside its deprecation grace
// window is still valid.
func (k *APIKey) IsValid(now time.Time) bool {
	return k.Status == constants.KeyStatusActive && !k.IsExpired(now)
}

// CanRotate reports whether the key may be the source of a rotation. Rotation
// is a one-shot transition: a key that already carries a deprecation date
// cannot be rotated again until explicitly reactivated.
func (k *APIKey) CanRotate(now time.Time) bool {
	return k.IsValid(now) && k.DeprecationDate == nil
}

// IPAllowed reports whether the caller address passes the key's allowlist.
// An empty allowlist is unrestricted, and loopback callers always pass.
func (k *APIKey) IPAllowed(callerIP string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	if ip := net.ParseIP(callerIP); ip != nil && ip.IsLoopback() {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if allowed == callerIP {
			return true
		}
	}
	return false
}

// Package repository defines the persistence contracts of the Gatekeeper
// domain. Implementations live under internal/infrastructure/persistence.
package repository

import (
	"context"
	"time"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/pkg/constants"
)

// ComplianceCounts is the aggregate key inventory reported to operators.
type ComplianceCounts struct {
	Active          int64 `json:"active"`
	Valid           int64 `json:"valid"`
	Expired         int64 `json:"expired"`
	Deprecated      int64 `json:"deprecated"`
	ExpiringSoon    int64 `json:"expiring_soon"`
	Unused          int64 `json:"unused"`
	RecentlyRotated int64 `json:"recently_rotated"`
}

// APIKeyRepository is the source of truth for every key ever issued.
// Tombstoned rows are excluded from all active and valid scopes.
type APIKeyRepository interface {
	// Create persists a freshly issued key.
	Create(ctx context.Context, key *models.APIKey) error

	// FindByID returns a key regardless of status, or errors.ErrNotFound.
	FindByID(ctx context.Context, id string) (*models.APIKey, error)

	// FindActiveByKey returns the key matching secret and type that is
	// active, not tombstoned, and not expired as of now, or ErrNotFound.
	FindActiveByKey(ctx context.Context, secret string, keyType constants.KeyType, now time.Time) (*models.APIKey, error)

	// UpdateStatus flips a key's lifecycle status.
	UpdateStatus(ctx context.Context, id string, status constants.KeyStatus) error

	// SetDeprecationDate stamps the grace-window end on a rotated key.
	SetDeprecationDate(ctx context.Context, id string, at time.Time) error

	// ClearDeprecation reactivates a deprecated key, making it rotatable again.
	ClearDeprecation(ctx context.Context, id string) error

	// TouchLastUsed records a successful validation. Best-effort; callers
	// ignore the error beyond logging.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error

	// DeactivateBatch flips every listed key inactive and returns the number
	// of rows changed.
	DeactivateBatch(ctx context.Context, ids []string) (int64, error)

	// TombstoneExpired soft-deletes every non-tombstoned key whose expiry has
	// passed, returning the number processed.
	TombstoneExpired(ctx context.Context, now time.Time) (int64, error)

	// DeactivateDeprecated flips every active key whose deprecation date has
	// passed, returning the number processed.
	DeactivateDeprecated(ctx context.Context, now time.Time) (int64, error)

	// ListExpiringWithin returns active keys whose expiry falls inside the
	// next `within` duration.
	ListExpiringWithin(ctx context.Context, now time.Time, within time.Duration) ([]*models.APIKey, error)

	// ListUnusedSince returns active keys not used since the cutoff,
	// including keys never used that were created before it.
	ListUnusedSince(ctx context.Context, cutoff time.Time) ([]*models.APIKey, error)

	// ComplianceCounts aggregates the inventory for the compliance report.
	ComplianceCounts(ctx context.Context, now time.Time, expiringWithin, unusedFor, rotatedWithin time.Duration) (*ComplianceCounts, error)
}

// AuditLog appends immutable key lifecycle events.
type AuditLog interface {
	Append(ctx context.Context, event *models.KeyAuditEvent) error
	// ListByKey returns the event history of one key, newest first.
	ListByKey(ctx context.Context, keyID string) ([]*models.KeyAuditEvent, error)
}

package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	"github.com/merchware/gatekeeper/internal/domain/service"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// RotationConfig holds the lifecycle knobs of the rotation manager.
type RotationConfig struct {
	// ExpiryMonths is the lifetime given to keys minted by rotation.
	ExpiryMonths int
	// TransitionDays is the grace window the rotated-out key stays usable.
	TransitionDays int
	// ExpiringSoonDays and UnusedDays parameterize the compliance report.
	ExpiringSoonDays int
	UnusedDays       int
	RotatedDays      int
}

// DefaultRotationConfig returns the standard lifecycle windows.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		ExpiryMonths:     constants.DefaultKeyExpiryMonths,
		TransitionDays:   constants.DefaultTransitionDays,
		ExpiringSoonDays: 30,
		UnusedDays:       90,
		RotatedDays:      30,
	}
}

// ComplianceSummary is the aggregate lifecycle report for operators.
type ComplianceSummary struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Counts      repository.ComplianceCounts `json:"counts"`
	// Windows documents the report parameters in days.
	Windows map[string]int `json:"windows"`
}

// RotationService orchestrates key issuance, rotation, deactivation, and the
// expiration/deprecation sweeps against the key store.
type RotationService struct {
	repo  repository.APIKeyRepository
	audit repository.AuditLog
	cache service.KeyValueStore
	cfg   RotationConfig
	log   logger.Logger
	now   func() time.Time

	// SweepProcessed is invoked with the sweep name and key count when set;
	// wired to metrics by the caller.
	SweepProcessed func(sweep string, processed int64)
}

// NewRotationService creates the lifecycle manager.
func NewRotationService(repo repository.APIKeyRepository, audit repository.AuditLog, cache service.KeyValueStore, cfg RotationConfig, log logger.Logger) *RotationService {
	if cfg.ExpiryMonths <= 0 {
		cfg.ExpiryMonths = constants.DefaultKeyExpiryMonths
	}
	if cfg.TransitionDays <= 0 {
		cfg.TransitionDays = constants.DefaultTransitionDays
	}
	return &RotationService{
		repo:  repo,
		audit: audit,
		cache: cache,
		cfg:   cfg,
		log:   log.WithComponent("rotation"),
		now:   time.Now,
	}
}

// IssueKey mints a brand-new active key. A non-positive rate limit falls back
// to the key type's default; expiresAt is optional.
func (s *RotationService) IssueKey(ctx context.Context, name string, keyType constants.KeyType, rateLimit int, allowedIPs []string, expiresAt *time.Time) (*models.APIKey, error) {
	if !keyType.Valid() {
		return nil, apperrors.New("invalid_request", 400, fmt.Sprintf("unknown key type %q", keyType))
	}
	if rateLimit <= 0 {
		rateLimit = keyType.DefaultRateLimit()
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, apperrors.New("invalid_request", 400, "expiry must be in the future")
	}

	secret, err := generateSecret(keyType)
	if err != nil {
		return nil, err
	}

	key := &models.APIKey{
		ID:         uuid.NewString(),
		Name:       name,
		Secret:     secret,
		KeyType:    keyType,
		Status:     constants.KeyStatusActive,
		RateLimit:  rateLimit,
		AllowedIPs: allowedIPs,
		ExpiresAt:  expiresAt,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, key.ID, models.AuditActionCreated, "api", "", "")
	s.log.Info(ctx, "api key issued",
		logger.String("key_id", key.ID),
		logger.String("key_type", string(keyType)),
		logger.Int("rate_limit", rateLimit))
	return key, nil
}

// Rotate spawns a successor for a valid key and starts the predecessor's
// deprecation window. Rotation is a one-shot transition: a key already inside
// or past its deprecation window cannot be rotated again until reactivated.
// The old key remains usable through the transition window.
func (s *RotationService) Rotate(ctx context.Context, keyID string) (*models.APIKey, error) {
	old, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !old.CanRotate(now) {
		return nil, apperrors.New("invalid_request", 409,
			fmt.Sprintf("key %s cannot be rotated: not active, expired, or already rotated", old.ID))
	}

	secret, err := generateSecret(old.KeyType)
	if err != nil {
		return nil, err
	}

	expiresAt := now.AddDate(0, s.cfg.ExpiryMonths, 0)
	successor := &models.APIKey{
		ID:            uuid.NewString(),
		Name:          old.Name,
		Secret:        secret,
		KeyType:       old.KeyType,
		Status:        constants.KeyStatusActive,
		RateLimit:     old.RateLimit,
		AllowedIPs:    old.AllowedIPs,
		ExpiresAt:     &expiresAt,
		RotatedFromID: &old.ID,
	}
	if err := s.repo.Create(ctx, successor); err != nil {
		return nil, err
	}

	deprecationDate := now.AddDate(0, 0, s.cfg.TransitionDays)
	if err := s.repo.SetDeprecationDate(ctx, old.ID, deprecationDate); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, successor.ID, models.AuditActionRotated, "api", "", old.ID)
	s.appendAudit(ctx, old.ID, models.AuditActionDeprecated, "api",
		fmt.Sprintf("transition ends %s", deprecationDate.Format(time.RFC3339)), successor.ID)

	s.log.Info(ctx, "api key rotated",
		logger.String("old_key_id", old.ID),
		logger.String("new_key_id", successor.ID),
		logger.Time("deprecation_date", deprecationDate),
		logger.Time("new_expiry", expiresAt))
	return successor, nil
}

// Deactivate flips a key inactive immediately and unconditionally, for
// incident response. The cached validation verdict is purged best-effort so
// revocation does not wait out the cache TTL.
func (s *RotationService) Deactivate(ctx context.Context, keyID, reason string) error {
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, key.ID, constants.KeyStatusInactive); err != nil {
		return err
	}
	s.purgeVerdict(ctx, key)
	s.appendAudit(ctx, key.ID, models.AuditActionDeactivated, "api", reason, "")
	s.log.Warn(ctx, "api key deactivated",
		logger.String("key_id", key.ID),
		logger.String("reason", reason))
	return nil
}

// DeactivateBatch is the bulk variant of Deactivate for incident response.
// It returns the number of keys actually flipped.
func (s *RotationService) DeactivateBatch(ctx context.Context, keyIDs []string, reason string) (int64, error) {
	if len(keyIDs) == 0 {
		return 0, nil
	}

	// Load first so cached verdicts can be purged; missing IDs are skipped.
	var found []*models.APIKey
	for _, id := range keyIDs {
		key, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return 0, err
		}
		found = append(found, key)
	}

	processed, err := s.repo.DeactivateBatch(ctx, keyIDs)
	if err != nil {
		return 0, err
	}
	for _, key := range found {
		s.purgeVerdict(ctx, key)
		s.appendAudit(ctx, key.ID, models.AuditActionDeactivated, "api", reason, "")
	}
	s.log.Warn(ctx, "api keys batch-deactivated",
		logger.Int64("processed", processed),
		logger.String("reason", reason))
	return processed, nil
}

// Reactivate clears a key's deprecation date and restores active status,
// making it rotatable again.
func (s *RotationService) Reactivate(ctx context.Context, keyID string) error {
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key.Status == constants.KeyStatusTombstoned {
		return apperrors.New("invalid_request", 409, "tombstoned keys cannot be reactivated")
	}
	if err := s.repo.ClearDeprecation(ctx, key.ID); err != nil {
		return err
	}
	s.appendAudit(ctx, key.ID, models.AuditActionReactivated, "api", "", "")
	s.log.Info(ctx, "api key reactivated", logger.String("key_id", key.ID))
	return nil
}

// CleanupExpiredKeys tombstones every key whose expiry has passed, regardless
// of active status, and returns the number processed. Tombstoned rows are
// retained for audit.
func (s *RotationService) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	processed, err := s.repo.TombstoneExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if processed > 0 {
		s.log.Info(ctx, "expired keys tombstoned", logger.Int64("processed", processed))
	}
	s.sweep("cleanup_expired", processed)
	return processed, nil
}

// InvalidateDeprecatedKeys ends the grace period of every active key whose
// deprecation date has passed and returns the number processed.
func (s *RotationService) InvalidateDeprecatedKeys(ctx context.Context) (int64, error) {
	processed, err := s.repo.DeactivateDeprecated(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if processed > 0 {
		s.log.Info(ctx, "deprecated keys invalidated", logger.Int64("processed", processed))
	}
	s.sweep("invalidate_deprecated", processed)
	return processed, nil
}

// KeysExpiringWithin reports active keys whose expiry falls inside N days.
func (s *RotationService) KeysExpiringWithin(ctx context.Context, days int) ([]*models.APIKey, error) {
	return s.repo.ListExpiringWithin(ctx, s.now(), time.Duration(days)*24*time.Hour)
}

// KeysUnusedFor reports active keys that have not validated in N days.
func (s *RotationService) KeysUnusedFor(ctx context.Context, days int) ([]*models.APIKey, error) {
	return s.repo.ListUnusedSince(ctx, s.now().Add(-time.Duration(days)*24*time.Hour))
}

// Compliance aggregates the key inventory for the compliance report.
func (s *RotationService) Compliance(ctx context.Context) (*ComplianceSummary, error) {
	now := s.now()
	day := 24 * time.Hour
	counts, err := s.repo.ComplianceCounts(ctx, now,
		time.Duration(s.cfg.ExpiringSoonDays)*day,
		time.Duration(s.cfg.UnusedDays)*day,
		time.Duration(s.cfg.RotatedDays)*day,
	)
	if err != nil {
		return nil, err
	}
	return &ComplianceSummary{
		GeneratedAt: now,
		Counts:      *counts,
		Windows: map[string]int{
			"expiring_soon_days":    s.cfg.ExpiringSoonDays,
			"unused_days":           s.cfg.UnusedDays,
			"recently_rotated_days": s.cfg.RotatedDays,
		},
	}, nil
}

func (s *RotationService) purgeVerdict(ctx context.Context, key *models.APIKey) {
	if err := s.cache.Delete(ctx, verdictCacheKey(key.Secret, key.KeyType)); err != nil {
		s.log.Warn(ctx, "failed to purge cached verdict",
			logger.String("key_id", key.ID), logger.Err(err))
	}
}

func (s *RotationService) appendAudit(ctx context.Context, keyID, action, actor, reason, relatedKeyID string) {
	event := &models.KeyAuditEvent{
		KeyID:        keyID,
		Action:       action,
		Actor:        actor,
		Reason:       reason,
		RelatedKeyID: relatedKeyID,
	}
	if err := s.audit.Append(ctx, event); err != nil {
		s.log.Error(ctx, "failed to append audit event", err,
			logger.String("key_id", keyID),
			logger.String("action", action))
	}
}

func (s *RotationService) sweep(name string, processed int64) {
	if s.SweepProcessed != nil {
		s.SweepProcessed(name, processed)
	}
}

// generateSecret mints an opaque, prefix-tagged credential from 32 bytes of
// CSPRNG output.
func generateSecret(keyType constants.KeyType) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secret generation: %w", err)
	}
	return keyType.SecretPrefix() + base64.RawURLEncoding.EncodeToString(buf), nil
}

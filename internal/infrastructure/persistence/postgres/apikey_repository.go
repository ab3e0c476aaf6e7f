package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	"github.com/merchware/gatekeeper/pkg/constants"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
)

// APIKeyRepository is the gorm implementation of repository.APIKeyRepository.
type APIKeyRepository struct {
	db *gorm.DB
}

// NewAPIKeyRepository creates the repository over an open gorm handle.
func NewAPIKeyRepository(db *gorm.DB) repository.APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrUnavailable(err)
	}
	return &key, nil
}

func (r *APIKeyRepository) FindActiveByKey(ctx context.Context, secret string, keyType constants.KeyType, now time.Time) (*models.APIKey, error) {
	var key models.APIKey
	err := r.db.WithContext(ctx).
		Where("secret = ? AND key_type = ? AND status = ?", secret, keyType, constants.KeyStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.ErrUnavailable(err)
	}
	return &key, nil
}

func (r *APIKeyRepository) UpdateStatus(ctx context.Context, id string, status constants.KeyStatus) error {
	err := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (r *APIKeyRepository) SetDeprecationDate(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("deprecation_date", at).Error
	if err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (r *APIKeyRepository) ClearDeprecation(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"deprecation_date": nil,
			"status":           constants.KeyStatusActive,
		}).Error
	if err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
	if err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (r *APIKeyRepository) DeactivateBatch(ctx context.Context, ids []string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id IN ? AND status = ?", ids, constants.KeyStatusActive).
		Update("status", constants.KeyStatusInactive)
	if res.Error != nil {
		return 0, apperrors.ErrUnavailable(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *APIKeyRepository) TombstoneExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Where("status <> ?", constants.KeyStatusTombstoned).
		Update("status", constants.KeyStatusTombstoned)
	if res.Error != nil {
		return 0, apperrors.ErrUnavailable(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *APIKeyRepository) DeactivateDeprecated(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("deprecation_date IS NOT NULL AND deprecation_date <= ?", now).
		Where("status = ?", constants.KeyStatusActive).
		Update("status", constants.KeyStatusInactive)
	if res.Error != nil {
		return 0, apperrors.ErrUnavailable(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *APIKeyRepository) ListExpiringWithin(ctx context.Context, now time.Time, within time.Duration) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	err := r.db.WithContext(ctx).
		Where("status = ?", constants.KeyStatusActive).
		Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", now, now.Add(within)).
		Order("expires_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, apperrors.ErrUnavailable(err)
	}
	return keys, nil
}

func (r *APIKeyRepository) ListUnusedSince(ctx context.Context, cutoff time.Time) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	err := r.db.WithContext(ctx).
		Where("status = ?", constants.KeyStatusActive).
		Where("(last_used_at IS NOT NULL AND last_used_at < ?) OR (last_used_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Order("last_used_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, apperrors.ErrUnavailable(err)
	}
	return keys, nil
}

func (r *APIKeyRepository) ComplianceCounts(ctx context.Context, now time.Time, expiringWithin, unusedFor, rotatedWithin time.Duration) (*repository.ComplianceCounts, error) {
	counts := &repository.ComplianceCounts{}
	db := r.db.WithContext(ctx).Model(&models.APIKey{})

	type countQuery struct {
		dest  *int64
		build func(*gorm.DB) *gorm.DB
	}

	queries := []countQuery{
		{&counts.Active, func(q *gorm.DB) *gorm.DB {
			return q.Where("status = ?", constants.KeyStatusActive)
		}},
		{&counts.Valid, func(q *gorm.DB) *gorm.DB {
			return q.Where("status = ?", constants.KeyStatusActive).
				Where("expires_at IS NULL OR expires_at > ?", now)
		}},
		{&counts.Expired, func(q *gorm.DB) *gorm.DB {
			return q.Where("expires_at IS NOT NULL AND expires_at <= ?", now).
				Where("status <> ?", constants.KeyStatusTombstoned)
		}},
		{&counts.Deprecated, func(q *gorm.DB) *gorm.DB {
			return q.Where("deprecation_date IS NOT NULL AND deprecation_date <= ?", now)
		}},
		{&counts.ExpiringSoon, func(q *gorm.DB) *gorm.DB {
			return q.Where("status = ?", constants.KeyStatusActive).
				Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", now, now.Add(expiringWithin))
		}},
		{&counts.Unused, func(q *gorm.DB) *gorm.DB {
			cutoff := now.Add(-unusedFor)
			return q.Where("status = ?", constants.KeyStatusActive).
				Where("(last_used_at IS NOT NULL AND last_used_at < ?) OR (last_used_at IS NULL AND created_at < ?)", cutoff, cutoff)
		}},
		{&counts.RecentlyRotated, func(q *gorm.DB) *gorm.DB {
			return q.Where("rotated_from_id IS NOT NULL AND created_at >= ?", now.Add(-rotatedWithin))
		}},
	}

	for _, q := range queries {
		if err := q.build(db.Session(&gorm.Session{})).Count(q.dest).Error; err != nil {
			return nil, apperrors.ErrUnavailable(err)
		}
	}
	return counts, nil
}

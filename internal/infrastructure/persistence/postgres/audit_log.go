package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	apperrors "github.com/merchware/gatekeeper/pkg/errors"
)

// AuditLog is the gorm implementation of repository.AuditLog. Events are
// append-only; there is no update or delete path.
type AuditLog struct {
	db *gorm.DB
}

// NewAuditLog creates the audit log over an open gorm handle.
func NewAuditLog(db *gorm.DB) repository.AuditLog {
	return &AuditLog{db: db}
}

func (l *AuditLog) Append(ctx context.Context, event *models.KeyAuditEvent) error {
	if err := l.db.WithContext(ctx).Create(event).Error; err != nil {
		return apperrors.ErrUnavailable(err)
	}
	return nil
}

func (l *AuditLog) ListByKey(ctx context.Context, keyID string) ([]*models.KeyAuditEvent, error) {
	var events []*models.KeyAuditEvent
	err := l.db.WithContext(ctx).
		Where("key_id = ?", keyID).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	if err != nil {
		return nil, apperrors.ErrUnavailable(err)
	}
	return events, nil
}

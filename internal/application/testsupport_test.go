package application

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/merchware/gatekeeper/internal/domain/models"
	"github.com/merchware/gatekeeper/internal/domain/repository"
	"github.com/merchware/gatekeeper/internal/infrastructure/persistence/postgres"
)

// openTestDB returns a repository pair over a private in-memory database.
func openTestDB(t *testing.T) (repository.APIKeyRepository, repository.AuditLog) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.APIKey{}, &models.KeyAuditEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return postgres.NewAPIKeyRepository(db), postgres.NewAuditLog(db)
}

package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pysugar/area-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionSecretKey is the settings row holding the generated session secret.
const SessionSecretKey = "session_secret"

var allModels = []any{
	&models.User{},
	&models.LinkedAccount{},
	&models.AuthIdentity{},
	&models.Service{},
	&models.ActionDef{},
	&models.ReactionDef{},
	&models.Area{},
	&models.EventLog{},
	&models.Setting{},
}

// InitDB initializes the SQLite database connection and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a private in-memory database with all migrations applied.
// Every call gets its own database; a single connection keeps it alive and
// visible to every query.
func OpenMemory() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSetting returns the stored value for key, generating and storing a
// random hex value on first use.
func EnsureSetting(db *gorm.DB, key string) (string, error) {
	var setting models.Setting
	if err := db.Where("key = ?", key).First(&setting).Error; err == nil {
		return setting.Value, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate %s: %w", key, err)
	}
	setting = models.Setting{Key: key, Value: hex.EncodeToString(b)}
	if err := db.Create(&setting).Error; err != nil {
		// Lost a race with another writer; the stored value wins.
		if err := db.Where("key = ?", key).First(&setting).Error; err != nil {
			return "", fmt.Errorf("store %s: %w", key, err)
		}
		return setting.Value, nil
	}
	log.Printf("🔑 Generated new %s", key)
	return setting.Value, nil
}

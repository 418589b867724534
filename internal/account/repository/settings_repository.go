package repository

import (
	"errors"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SettingsRepository persists per-user sync preferences.
type SettingsRepository interface {
	// GetByUserID returns the user's settings, or defaults when none were
	// ever saved.
	GetByUserID(userID string) (*accountdomain.UserSettings, error)
	Upsert(settings *accountdomain.UserSettings) error
}

// settingsRepository implements SettingsRepository interface
type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new instance of settingsRepository
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) GetByUserID(userID string) (*accountdomain.UserSettings, error) {
	var settings accountdomain.UserSettings
	err := r.db.Where("user_id = ?", userID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return accountdomain.DefaultSettings(userID), nil
		}
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepository) Upsert(settings *accountdomain.UserSettings) error {
	existing := &accountdomain.UserSettings{}
	err := r.db.Where("user_id = ?", settings.UserID).First(existing).Error
	now := time.Now()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings.ID = uuid.New().String()
		settings.CreatedAt = now
		settings.UpdatedAt = now
		return r.db.Create(settings).Error
	} else if err != nil {
		return err
	}
	settings.ID = existing.ID
	settings.CreatedAt = existing.CreatedAt
	settings.UpdatedAt = now
	return r.db.Save(settings).Error
}

package models

import "time"

// LinkedAccount stores a user's credentials for one provider.
// AccessToken and RefreshToken hold vault envelopes, never plaintext.
type LinkedAccount struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          string `gorm:"not null;uniqueIndex:idx_user_provider"`
	Provider        string `gorm:"not null;uniqueIndex:idx_user_provider"` // e.g., "google", "spotify"
	AccessToken     string `gorm:"type:text"`
	RefreshToken    string `gorm:"type:text"`
	ExpiresAt       time.Time
	Scopes          string // space separated
	IsActive        bool   `gorm:"default:true"`
	LastRefreshedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

package models

import "time"

// AuthIdentity maps a provider-side account to a local user for login.
// It never stores tokens.
type AuthIdentity struct {
	ID             uint   `gorm:"primaryKey"`
	Provider       string `gorm:"not null;uniqueIndex:idx_provider_subject"`
	ProviderUserID string `gorm:"not null;uniqueIndex:idx_provider_subject"`
	UserID         string `gorm:"not null;index"`
	Email          string
	Name           string
	Picture        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Area binds one action to one reaction for one user.
// ActionName and ReactionName are denormalized from the catalog rows so the
// engine can dispatch without a join.
type Area struct {
	ID           string         `gorm:"primaryKey" json:"id"` // UUID
	UserID       string         `gorm:"not null;index:idx_area_user_action" json:"user_id"`
	ActionID     uint           `gorm:"not null" json:"-"`
	ReactionID   uint           `gorm:"not null" json:"-"`
	ActionName   string         `gorm:"not null;index:idx_area_user_action" json:"action"`
	ReactionName string         `gorm:"not null" json:"reaction"`
	Config       string         `gorm:"type:text" json:"config,omitempty"` // JSON object
	IsActive     bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

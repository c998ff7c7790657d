package models

import "time"

// DefaultServiceName is the container catalog rows fall into when no
// explicit service exists.
const DefaultServiceName = "default"

// Service groups catalog rows.
type Service struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// ActionDef is the persisted catalog row for a compiled-in action.
type ActionDef struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	ServiceID   uint
	CreatedAt   time.Time
}

// ReactionDef is the persisted catalog row for a compiled-in reaction.
type ReactionDef struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	ServiceID   uint
	CreatedAt   time.Time
}

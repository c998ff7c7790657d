package models

import "time"

// Setting stores generated runtime values such as the session secret.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

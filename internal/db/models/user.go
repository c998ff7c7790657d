package models

import "time"

// User is the minimal account row the engine resolves bindings against.
// Registration and credentials live outside this service.
type User struct {
	ID        string    `gorm:"primaryKey" json:"id"` // UUID
	Email     string    `gorm:"index" json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

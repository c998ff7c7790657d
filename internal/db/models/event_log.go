package models

import "time"

// Event kinds.
const (
	EventExecuted = "executed"
	EventError    = "error"
)

// Event sources.
const (
	SourcePoll   = "poll"
	SourceSweep  = "sweep"
	SourceManual = "manual"
)

// EventLog is an append-only audit row for one area evaluation.
type EventLog struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	AreaID         string    `gorm:"index" json:"area_id"`
	UserID         string    `gorm:"index" json:"user_id"`
	Kind           string    `gorm:"index" json:"kind"`
	Source         string    `json:"source"`
	ActionResult   string    `gorm:"type:text" json:"action_result,omitempty"`
	ReactionResult string    `gorm:"type:text" json:"reaction_result,omitempty"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// EventStats holds aggregated counters for event logs.
type EventStats struct {
	Total    int64 `json:"total"`
	Executed int64 `json:"executed"`
	Errors   int64 `json:"errors"`
}

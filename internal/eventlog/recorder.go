// Package eventlog records the append-only audit trail of area evaluations.
package eventlog

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/area-nexus/internal/db/models"
	"gorm.io/gorm"
)

const (
	// MaxMemoryEvents limits the in-memory recent list.
	MaxMemoryEvents = 100
	// MaxResultSize caps stored result JSON and error text.
	MaxResultSize = 16 * 1024
)

// Entry is what the engine reports for one evaluation.
type Entry struct {
	AreaID         string
	UserID         string
	Source         string
	ActionResult   any
	ReactionResult any
	Err            error
}

// Recorder persists EventLog rows and keeps counters. Rows are written
// synchronously so a finished sweep is fully visible to readers.
type Recorder struct {
	db *gorm.DB

	recent   []models.EventLog
	recentMu sync.RWMutex

	total    atomic.Int64
	executed atomic.Int64
	errors   atomic.Int64
}

// NewRecorder creates a recorder and seeds its counters from the database.
func NewRecorder(db *gorm.DB) *Recorder {
	r := &Recorder{db: db, recent: make([]models.EventLog, 0, MaxMemoryEvents)}
	r.loadStatsFromDB()
	return r
}

func (r *Recorder) loadStatsFromDB() {
	var total, executed, errs int64
	r.db.Model(&models.EventLog{}).Count(&total)
	r.db.Model(&models.EventLog{}).Where("kind = ?", models.EventExecuted).Count(&executed)
	r.db.Model(&models.EventLog{}).Where("kind = ?", models.EventError).Count(&errs)
	r.total.Store(total)
	r.executed.Store(executed)
	r.errors.Store(errs)
}

// Record writes one event. Entries with Err set are stored as errors.
func (r *Recorder) Record(ctx context.Context, e Entry) (*models.EventLog, error) {
	row := models.EventLog{
		ID:             uuid.NewString(),
		AreaID:         e.AreaID,
		UserID:         e.UserID,
		Kind:           models.EventExecuted,
		Source:         e.Source,
		ActionResult:   encode(e.ActionResult),
		ReactionResult: encode(e.ReactionResult),
		CreatedAt:      time.Now(),
	}
	if e.Err != nil {
		row.Kind = models.EventError
		row.Error = truncate(e.Err.Error())
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("[EventLog] Failed to save event for area %s: %v", e.AreaID, err)
		return nil, err
	}

	r.total.Add(1)
	if row.Kind == models.EventError {
		r.errors.Add(1)
	} else {
		r.executed.Add(1)
	}

	r.recentMu.Lock()
	r.recent = append([]models.EventLog{row}, r.recent...)
	if len(r.recent) > MaxMemoryEvents {
		r.recent = r.recent[:MaxMemoryEvents]
	}
	r.recentMu.Unlock()
	return &row, nil
}

// Recent returns up to limit of the newest events recorded by this process.
func (r *Recorder) Recent(limit int) []models.EventLog {
	r.recentMu.RLock()
	defer r.recentMu.RUnlock()
	if limit <= 0 || limit > len(r.recent) {
		limit = len(r.recent)
	}
	out := make([]models.EventLog, limit)
	copy(out, r.recent[:limit])
	return out
}

// ListForUser returns the newest events of one user.
func (r *Recorder) ListForUser(ctx context.Context, userID string, limit int) ([]models.EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.EventLog
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListForArea returns the newest events of one area.
func (r *Recorder) ListForArea(ctx context.Context, areaID string, limit int) ([]models.EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.EventLog
	err := r.db.WithContext(ctx).Where("area_id = ?", areaID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Stats returns the aggregated counters.
func (r *Recorder) Stats() models.EventStats {
	return models.EventStats{
		Total:    r.total.Load(),
		Executed: r.executed.Load(),
		Errors:   r.errors.Load(),
	}
}

func encode(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return truncate(string(b))
}

func truncate(s string) string {
	if len(s) > MaxResultSize {
		return s[:MaxResultSize] + "...[truncated]"
	}
	return s
}

package polling

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/cache"
)

// Cursor kinds and the explicit marker stored when the upstream list is empty.
const (
	CursorDate  = "date"
	CursorID    = "id"
	EmptyMarker = "empty"
)

// CursorKey is "<action>:last:<kind>:<userID>".
func CursorKey(action, kind, userID string) string {
	return fmt.Sprintf("%s:last:%s:%s", action, kind, userID)
}

// Item is the newest upstream item as seen by a poller. Date is a unix
// timestamp in any fixed unit; larger means newer.
type Item struct {
	Date int64
	ID   string
}

// Baseline detects new items since the last evaluation. The first
// observation only records a baseline, so history never triggers.
//
// Calls for the same (action, user) must not overlap; poll sessions
// guarantee that.
type Baseline struct {
	cache cache.Cache
}

// NewBaseline creates a detector over c.
func NewBaseline(c cache.Cache) *Baseline {
	return &Baseline{cache: c}
}

// Observe compares latest (nil when the upstream list is empty) with the
// stored cursor and returns area.CodeTriggered or area.CodeNoChange. Cache
// failures yield CodeNoChange.
func (b *Baseline) Observe(ctx context.Context, action, userID string, latest *Item) int {
	dateKey := CursorKey(action, CursorDate, userID)
	idKey := CursorKey(action, CursorID, userID)

	if latest == nil {
		if err := b.cache.Set(ctx, dateKey, EmptyMarker, 0); err != nil {
			log.Printf("⚠️ [Poll] %s: write empty marker for %s: %v", action, userID, err)
		}
		return area.CodeNoChange
	}

	cached, ok, err := b.cache.Get(ctx, dateKey)
	if err != nil {
		log.Printf("⚠️ [Poll] %s: read cursor for %s: %v", action, userID, err)
		return area.CodeNoChange
	}

	switch {
	case !ok:
		b.store(ctx, dateKey, idKey, latest)
		return area.CodeNoChange
	case cached == EmptyMarker:
		if !b.store(ctx, dateKey, idKey, latest) {
			return area.CodeNoChange
		}
		return area.CodeTriggered
	}

	prev, err := strconv.ParseInt(cached, 10, 64)
	if err != nil {
		log.Printf("⚠️ [Poll] %s: unreadable cursor %q for %s, re-baselining", action, cached, userID)
		b.store(ctx, dateKey, idKey, latest)
		return area.CodeNoChange
	}

	if latest.Date > prev {
		if !b.store(ctx, dateKey, idKey, latest) {
			return area.CodeNoChange
		}
		return area.CodeTriggered
	}

	if latest.ID != "" {
		if _, ok, err := b.cache.Get(ctx, idKey); err == nil && !ok {
			_ = b.cache.Set(ctx, idKey, latest.ID, 0)
		}
	}
	return area.CodeNoChange
}

// store writes both cursors and reports whether the date cursor landed.
func (b *Baseline) store(ctx context.Context, dateKey, idKey string, item *Item) bool {
	if err := b.cache.Set(ctx, dateKey, strconv.FormatInt(item.Date, 10), 0); err != nil {
		log.Printf("⚠️ [Poll] write cursor %s: %v", dateKey, err)
		return false
	}
	if item.ID != "" {
		if err := b.cache.Set(ctx, idKey, item.ID, 0); err != nil {
			log.Printf("⚠️ [Poll] write cursor %s: %v", idKey, err)
		}
	}
	return true
}

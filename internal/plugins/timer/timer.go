// Package timer provides a sweep-evaluated action that fires on a fixed
// per-area interval.
package timer

import (
	"context"
	"strconv"
	"time"

	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/cache"
	"github.com/pysugar/area-nexus/internal/polling"
)

const (
	ActionEveryInterval = "every_interval"

	defaultMinutes = 60
)

// Plugin implements area.Plugin. The last firing time of each area is kept
// in the cursor cache under the area id.
type Plugin struct {
	cache cache.Cache
	now   func() time.Time
}

// New creates the plugin. A nil now uses time.Now.
func New(c cache.Cache, now func() time.Time) *Plugin {
	if now == nil {
		now = time.Now
	}
	return &Plugin{cache: c, now: now}
}

func (p *Plugin) Name() string { return "timer" }

func (p *Plugin) Actions() []area.Action {
	return []area.Action{{
		Name:        ActionEveryInterval,
		Description: "Triggers every N minutes (config: minutes, default 60)",
		Run:         p.run,
		Release:     p.release,
	}}
}

func (p *Plugin) Reactions() []area.Reaction { return nil }

func (p *Plugin) release(ctx context.Context, areaID string) error {
	return p.cache.Del(ctx, polling.CursorKey(ActionEveryInterval, polling.CursorDate, areaID))
}

// run baselines on the first sweep, then fires once the interval elapsed.
func (p *Plugin) run(ctx context.Context, in area.Input) (area.Result, error) {
	minutes := in.Int("minutes", defaultMinutes)
	if minutes < 1 {
		minutes = 1
	}
	key := polling.CursorKey(ActionEveryInterval, polling.CursorDate, in.AreaID)
	now := p.now()

	last, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		return area.NoChange(), err
	}
	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	if !ok {
		return area.NoChange(), p.cache.Set(ctx, key, stamp, 0)
	}
	prev, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return area.NoChange(), p.cache.Set(ctx, key, stamp, 0)
	}
	if now.Sub(time.UnixMilli(prev)) < time.Duration(minutes)*time.Minute {
		return area.NoChange(), nil
	}
	if err := p.cache.Set(ctx, key, stamp, 0); err != nil {
		return area.NoChange(), err
	}
	return area.Result{Code: area.CodeTriggered, Yield: map[string]any{
		"fired_at": now.UTC().Format(time.RFC3339),
		"minutes":  minutes,
	}}, nil
}

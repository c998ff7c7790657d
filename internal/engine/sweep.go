package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/eventlog"
	"github.com/pysugar/area-nexus/internal/logging"
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	Evaluated int `json:"evaluated"`
	Triggered int `json:"triggered"`
	Failed    int `json:"failed"`
}

// ExecuteAllActiveAreas evaluates every active area whose action is not
// poll-capable. Areas run concurrently and fail independently.
func (e *Engine) ExecuteAllActiveAreas(ctx context.Context) (SweepReport, error) {
	return e.sweep(ctx, models.SourceSweep)
}

// TriggerAreaExecution runs a sweep on demand.
func (e *Engine) TriggerAreaExecution(ctx context.Context) (SweepReport, error) {
	log.Printf("%s[Engine] Manual sweep requested", logging.Prefix(ctx))
	return e.sweep(ctx, models.SourceManual)
}

func (e *Engine) sweep(ctx context.Context, source string) (SweepReport, error) {
	areas, err := e.store.ListActiveAreas(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("engine.sweep: %w", err)
	}

	var (
		wg        sync.WaitGroup
		evaluated atomic.Int64
		triggered atomic.Int64
		failed    atomic.Int64
	)
	for _, a := range areas {
		if e.coord.Supports(a.ActionName) {
			continue
		}
		wg.Add(1)
		go func(a models.Area) {
			defer wg.Done()
			evaluated.Add(1)
			fired, err := e.evaluate(ctx, a, source)
			switch {
			case err != nil:
				failed.Add(1)
			case fired:
				triggered.Add(1)
			}
		}(a)
	}
	wg.Wait()

	report := SweepReport{
		Evaluated: int(evaluated.Load()),
		Triggered: int(triggered.Load()),
		Failed:    int(failed.Load()),
	}
	if report.Evaluated > 0 {
		log.Printf("🧹 [Engine] Sweep done: %d evaluated, %d triggered, %d failed",
			report.Evaluated, report.Triggered, report.Failed)
	}
	return report, nil
}

// evaluate runs one area's action and, on a trigger, its reaction. Errors
// and panics become error events.
func (e *Engine) evaluate(ctx context.Context, a models.Area, source string) (fired bool, err error) {
	ctx = logging.WithUserID(ctx, a.UserID)
	defer func() {
		if r := recover(); r != nil {
			fired = false
			err = fmt.Errorf("action %s panicked: %v", a.ActionName, r)
			e.record(ctx, eventlog.Entry{AreaID: a.ID, UserID: a.UserID, Source: source, Err: err})
		}
	}()

	action, ok := e.catalog.Action(a.ActionName)
	if !ok {
		err = fmt.Errorf("action %q is not registered", a.ActionName)
		e.record(ctx, eventlog.Entry{AreaID: a.ID, UserID: a.UserID, Source: source, Err: err})
		return false, err
	}

	res, err := action.Run(ctx, inputFor(a, nil))
	if err != nil {
		e.record(ctx, eventlog.Entry{AreaID: a.ID, UserID: a.UserID, Source: source, Err: err})
		return false, err
	}
	if !res.Triggered() {
		return false, nil
	}
	e.dispatch(ctx, a, res, source)
	return true, nil
}

// StartSweepLoop sweeps once immediately and then every interval until ctx
// is done.
func (e *Engine) StartSweepLoop(ctx context.Context, interval time.Duration) {
	if _, err := e.ExecuteAllActiveAreas(ctx); err != nil {
		log.Printf("⚠️ [Engine] Initial sweep failed: %v", err)
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.ExecuteAllActiveAreas(ctx); err != nil {
					log.Printf("⚠️ [Engine] Sweep failed: %v", err)
				}
			}
		}
	}()
	log.Printf("🔄 Sweep loop started (interval: %s)", interval)
}

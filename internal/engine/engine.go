// Package engine owns the lifecycle of areas: it validates and persists
// bindings, starts poll sessions for poll-capable actions, sweeps the rest on
// an interval and dispatches reactions when an action triggers.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pysugar/area-nexus/internal/apperr"
	"github.com/pysugar/area-nexus/internal/area"
	"github.com/pysugar/area-nexus/internal/cache"
	"github.com/pysugar/area-nexus/internal/db/models"
	"github.com/pysugar/area-nexus/internal/eventlog"
	"github.com/pysugar/area-nexus/internal/logging"
	"github.com/pysugar/area-nexus/internal/polling"
)

// Store is the persistence the engine needs. *db.Store implements it.
type Store interface {
	UserExists(ctx context.Context, id string) (bool, error)
	EnsureAction(ctx context.Context, name, description string) (*models.ActionDef, error)
	EnsureReaction(ctx context.Context, name, description string) (*models.ReactionDef, error)
	CreateArea(ctx context.Context, a *models.Area) error
	GetArea(ctx context.Context, id string) (*models.Area, error)
	DeactivateArea(ctx context.Context, id string) error
	ListUserAreas(ctx context.Context, userID string) ([]models.Area, error)
	ListActiveAreas(ctx context.Context) ([]models.Area, error)
	ListActiveAreasFor(ctx context.Context, userID, actionName string) ([]models.Area, error)
	DeleteUserCascade(ctx context.Context, id string) error
}

// Recorder writes audit rows. *eventlog.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context, e eventlog.Entry) (*models.EventLog, error)
}

// Coordinator manages poll sessions. *polling.Coordinator implements it.
type Coordinator interface {
	Supports(action string) bool
	Start(action, userID string, emit polling.EmitFunc) (bool, error)
	Stop(action, userID string)
}

// AreaCacheKey is the cache key of the denormalized area entry.
func AreaCacheKey(id string) string {
	return "area:" + id
}

// Engine is safe for concurrent use.
type Engine struct {
	catalog  *Catalog
	store    Store
	cache    cache.Cache
	coord    Coordinator
	recorder Recorder

	// sessionLocks serializes session changes per (action, user).
	sessionLocks sync.Map
}

// New wires an engine.
func New(catalog *Catalog, store Store, c cache.Cache, coord Coordinator, recorder Recorder) *Engine {
	return &Engine{catalog: catalog, store: store, cache: c, coord: coord, recorder: recorder}
}

// Catalog returns the action/reaction catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// BindOption customizes a new area.
type BindOption func(*bindOptions)

type bindOptions struct {
	config map[string]any
}

// WithConfig attaches reaction/action parameters to the area.
func WithConfig(cfg map[string]any) BindOption {
	return func(o *bindOptions) { o.config = cfg }
}

// BindAction creates a new area binding actionName to reactionName for
// userID and returns its id. Every call creates a distinct area.
func (e *Engine) BindAction(ctx context.Context, userID, actionName, reactionName string, opts ...BindOption) (string, error) {
	const op = "engine.BindAction"
	var o bindOptions
	for _, fn := range opts {
		fn(&o)
	}

	action, ok := e.catalog.Action(actionName)
	if !ok {
		return "", apperr.Validation(op, "unknown action %q", actionName)
	}
	reaction, ok := e.catalog.Reaction(reactionName)
	if !ok {
		return "", apperr.Validation(op, "unknown reaction %q", reactionName)
	}
	var rawConfig string
	if len(o.config) > 0 {
		b, err := json.Marshal(o.config)
		if err != nil {
			return "", apperr.Wrap(apperr.KindValidation, op, err, "config is not serializable")
		}
		rawConfig = string(b)
	}

	exists, err := e.store.UserExists(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return "", apperr.NotFound(op, "user %s not found", userID)
	}

	actionDef, err := e.store.EnsureAction(ctx, action.Name, action.Description)
	if err != nil {
		return "", fmt.Errorf("%s: ensure action: %w", op, err)
	}
	reactionDef, err := e.store.EnsureReaction(ctx, reaction.Name, reaction.Description)
	if err != nil {
		return "", fmt.Errorf("%s: ensure reaction: %w", op, err)
	}

	a := &models.Area{
		UserID:       userID,
		ActionID:     actionDef.ID,
		ReactionID:   reactionDef.ID,
		ActionName:   action.Name,
		ReactionName: reaction.Name,
		Config:       rawConfig,
	}
	polled := e.coord.Supports(a.ActionName)
	if polled {
		unlock := e.lockSession(a.ActionName, a.UserID)
		defer unlock()
	}
	if err := e.store.CreateArea(ctx, a); err != nil {
		return "", fmt.Errorf("%s: create area: %w", op, err)
	}
	e.cacheArea(ctx, a)

	if polled {
		e.startSession(a.ActionName, a.UserID)
	}
	log.Printf("%s[Engine] Bound %s -> %s as area %s", logging.Prefix(ctx), a.ActionName, a.ReactionName, a.ID)
	return a.ID, nil
}

// DeactivateArea marks the area inactive and drops its cache entry. The poll
// session of (action, user) stops once no other active area of that user
// still uses the action.
func (e *Engine) DeactivateArea(ctx context.Context, areaID string) error {
	const op = "engine.DeactivateArea"
	a, err := e.store.GetArea(ctx, areaID)
	if err != nil {
		return err
	}
	polled := e.coord.Supports(a.ActionName)
	if polled {
		unlock := e.lockSession(a.ActionName, a.UserID)
		defer unlock()
	}
	if err := e.store.DeactivateArea(ctx, areaID); err != nil {
		return err
	}
	e.forgetArea(ctx, *a)

	if polled {
		remaining, err := e.store.ListActiveAreasFor(ctx, a.UserID, a.ActionName)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if len(remaining) == 0 {
			e.coord.Stop(a.ActionName, a.UserID)
		}
	}
	log.Printf("%s[Engine] Deactivated area %s", logging.Prefix(ctx), areaID)
	return nil
}

// DeleteUser stops the user's poll sessions, drops their cached areas and
// removes the user with identities, linked accounts and areas.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	areas, err := e.store.ListUserAreas(ctx, userID)
	if err != nil {
		return fmt.Errorf("engine.DeleteUser: %w", err)
	}
	if err := e.store.DeleteUserCascade(ctx, userID); err != nil {
		return err
	}
	stopped := make(map[string]bool)
	for _, a := range areas {
		if a.IsActive && !stopped[a.ActionName] && e.coord.Supports(a.ActionName) {
			unlock := e.lockSession(a.ActionName, userID)
			e.coord.Stop(a.ActionName, userID)
			unlock()
			stopped[a.ActionName] = true
		}
		e.forgetArea(ctx, a)
	}
	log.Printf("%s🗑️ [Engine] Deleted user %s and %d areas", logging.Prefix(ctx), userID, len(areas))
	return nil
}

// forgetArea drops the cache entry of an area and the per-area state its
// action keeps.
func (e *Engine) forgetArea(ctx context.Context, a models.Area) {
	if err := e.cache.Del(ctx, AreaCacheKey(a.ID)); err != nil {
		log.Printf("%s⚠️ [Engine] Failed to drop cache entry of area %s: %v", logging.Prefix(ctx), a.ID, err)
	}
	action, ok := e.catalog.Action(a.ActionName)
	if !ok || action.Release == nil {
		return
	}
	if err := action.Release(ctx, a.ID); err != nil {
		log.Printf("%s⚠️ [Engine] Failed to release %s state of area %s: %v", logging.Prefix(ctx), a.ActionName, a.ID, err)
	}
}

func (e *Engine) lockSession(action, userID string) (unlock func()) {
	v, _ := e.sessionLocks.LoadOrStore(action+"\x00"+userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetArea returns one area.
func (e *Engine) GetArea(ctx context.Context, areaID string) (*models.Area, error) {
	return e.store.GetArea(ctx, areaID)
}

// GetUserAreas lists the areas of a user, newest first.
func (e *Engine) GetUserAreas(ctx context.Context, userID string) ([]models.Area, error) {
	return e.store.ListUserAreas(ctx, userID)
}

func (e *Engine) GetAvailableActions() []CatalogEntry {
	return e.catalog.ListActions()
}

func (e *Engine) GetAvailableReactions() []CatalogEntry {
	return e.catalog.ListReactions()
}

// InitPollingForActiveAreas starts a poll session for every active area
// whose action is poll-capable and returns how many sessions were started.
func (e *Engine) InitPollingForActiveAreas(ctx context.Context) (int, error) {
	areas, err := e.store.ListActiveAreas(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine.InitPollingForActiveAreas: %w", err)
	}
	started := 0
	for _, a := range areas {
		if !e.coord.Supports(a.ActionName) {
			continue
		}
		unlock := e.lockSession(a.ActionName, a.UserID)
		if e.startSession(a.ActionName, a.UserID) {
			started++
		}
		unlock()
	}
	log.Printf("🔁 [Engine] Resumed %d poll sessions for %d active areas", started, len(areas))
	return started, nil
}

func (e *Engine) startSession(action, userID string) bool {
	started, err := e.coord.Start(action, userID, e.emitter(action, userID))
	if err != nil {
		log.Printf("⚠️ [Engine] Could not start polling %s for user %s: %v", action, userID, err)
		return false
	}
	return started
}

// emitter builds the poll callback of one session. A trigger fans out to
// every active area of the user bound to the action; a failed poll is
// recorded as an error event on each of them.
func (e *Engine) emitter(action, userID string) polling.EmitFunc {
	return func(ctx context.Context, res area.Result, pollErr error) {
		if pollErr == nil && !res.Triggered() {
			return
		}
		ctx = logging.WithUserID(ctx, userID)
		areas, err := e.store.ListActiveAreasFor(ctx, userID, action)
		if err != nil {
			log.Printf("%s❌ [Engine] Failed to load areas for %s: %v", logging.Prefix(ctx), action, err)
			return
		}
		for _, a := range areas {
			if pollErr != nil {
				e.record(ctx, eventlog.Entry{
					AreaID:       a.ID,
					UserID:       a.UserID,
					Source:       models.SourcePoll,
					ActionResult: actionResult(res),
					Err:          fmt.Errorf("poll %s: %w", action, pollErr),
				})
				continue
			}
			e.dispatch(ctx, a, res, models.SourcePoll)
		}
	}
}

// dispatch runs the reaction of a triggered area and records the outcome.
// Panics are recovered and recorded as errors.
func (e *Engine) dispatch(ctx context.Context, a models.Area, res area.Result, source string) {
	entry := eventlog.Entry{
		AreaID:       a.ID,
		UserID:       a.UserID,
		Source:       source,
		ActionResult: actionResult(res),
	}
	defer func() {
		if r := recover(); r != nil {
			entry.Err = fmt.Errorf("reaction %s panicked: %v", a.ReactionName, r)
			e.record(ctx, entry)
		}
	}()

	reaction, ok := e.catalog.Reaction(a.ReactionName)
	if !ok {
		entry.Err = fmt.Errorf("reaction %q is not registered", a.ReactionName)
		e.record(ctx, entry)
		return
	}
	out, err := reaction.Run(ctx, inputFor(a, res.Yield))
	if err != nil {
		entry.Err = err
	} else {
		entry.ReactionResult = out
	}
	e.record(ctx, entry)
}

func (e *Engine) record(ctx context.Context, entry eventlog.Entry) {
	if entry.Err != nil {
		log.Printf("%s❌ [Engine] Area %s failed: %v", logging.Prefix(ctx), entry.AreaID, entry.Err)
	}
	if _, err := e.recorder.Record(ctx, entry); err != nil {
		log.Printf("%s⚠️ [Engine] Could not record event for area %s: %v", logging.Prefix(ctx), entry.AreaID, err)
	}
}

func (e *Engine) cacheArea(ctx context.Context, a *models.Area) {
	b, err := json.Marshal(a)
	if err == nil {
		err = e.cache.Set(ctx, AreaCacheKey(a.ID), string(b), 0)
	}
	if err != nil {
		log.Printf("%s⚠️ [Engine] Failed to cache area %s: %v", logging.Prefix(ctx), a.ID, err)
	}
}

func inputFor(a models.Area, yield map[string]any) area.Input {
	in := area.Input{AreaID: a.ID, UserID: a.UserID, Yield: yield}
	if a.Config != "" {
		if err := json.Unmarshal([]byte(a.Config), &in.Config); err != nil {
			log.Printf("⚠️ [Engine] Area %s has unreadable config: %v", a.ID, err)
		}
	}
	return in
}

func actionResult(res area.Result) map[string]any {
	out := map[string]any{"code": res.Code}
	if len(res.Yield) > 0 {
		out["yield"] = res.Yield
	}
	return out
}

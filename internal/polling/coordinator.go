// Package polling owns per-(action, user) poll sessions. Each session is a
// repeating task on an injected Scheduler.
package polling

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pysugar/area-nexus/internal/area"
)

// Poller evaluates the actions it supports for one user.
type Poller interface {
	Supports(action string) bool
	Poll(ctx context.Context, action, userID string) (area.Result, error)
}

// Scheduler runs fn every interval until the returned stop func is called.
// Runs of one task never overlap.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// EmitFunc receives every evaluation of a session. err is set when the poll
// failed or panicked; res is then NoChange.
type EmitFunc func(ctx context.Context, res area.Result, err error)

type sessionKey struct {
	action string
	userID string
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	sched    Scheduler
	interval time.Duration

	mu       sync.Mutex
	pollers  []Poller
	sessions map[sessionKey]func()
	running  map[sessionKey]*sync.Mutex
	ctx      context.Context
}

// NewCoordinator creates a coordinator whose sessions tick every interval.
func NewCoordinator(sched Scheduler, interval time.Duration) *Coordinator {
	return &Coordinator{
		sched:    sched,
		interval: interval,
		sessions: make(map[sessionKey]func()),
		running:  make(map[sessionKey]*sync.Mutex),
		ctx:      context.Background(),
	}
}

// Register appends a poller. Earlier registrations win when several pollers
// support the same action.
func (c *Coordinator) Register(p Poller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollers = append(c.pollers, p)
}

// Supports reports whether any registered poller handles action.
func (c *Coordinator) Supports(action string) bool {
	return c.pollerFor(action) != nil
}

func (c *Coordinator) pollerFor(action string) Poller {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pollers {
		if p.Supports(action) {
			return p
		}
	}
	return nil
}

// Start begins polling action for userID. It returns false without doing
// anything when the session already exists.
func (c *Coordinator) Start(action, userID string, emit EmitFunc) (bool, error) {
	p := c.pollerFor(action)
	if p == nil {
		return false, fmt.Errorf("no poller supports action %q", action)
	}

	key := sessionKey{action: action, userID: userID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[key]; ok {
		return false, nil
	}
	ctx := c.ctx
	// The key lock outlives the session so a restarted session waits for an
	// evaluation of the stopped one still in flight.
	run, ok := c.running[key]
	if !ok {
		run = &sync.Mutex{}
		c.running[key] = run
	}
	c.sessions[key] = c.sched.Every(c.interval, func() {
		run.Lock()
		defer run.Unlock()
		c.tick(ctx, p, key, emit)
	})
	log.Printf("▶️ [Poll] Started %s for user %s", action, userID)
	return true, nil
}

func (c *Coordinator) tick(ctx context.Context, p Poller, key sessionKey, emit EmitFunc) {
	res, err := poll(ctx, p, key)
	if err != nil {
		log.Printf("⚠️ [Poll] %s for user %s failed: %v", key.action, key.userID, err)
		res = area.NoChange()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("💥 [Poll] emit of %s for user %s panicked: %v", key.action, key.userID, r)
		}
	}()
	emit(ctx, res, err)
}

func poll(ctx context.Context, p Poller, key sessionKey) (res area.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poller panicked: %v", r)
		}
	}()
	return p.Poll(ctx, key.action, key.userID)
}

// Stop ends the session for (action, userID). Unknown sessions are ignored.
// An evaluation already running is allowed to finish.
func (c *Coordinator) Stop(action, userID string) {
	key := sessionKey{action: action, userID: userID}
	c.mu.Lock()
	stop, ok := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()
	if ok {
		stop()
		log.Printf("⏹️ [Poll] Stopped %s for user %s", action, userID)
	}
}

// StopAll ends every session.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[sessionKey]func())
	c.mu.Unlock()
	for _, stop := range sessions {
		stop()
	}
	if len(sessions) > 0 {
		log.Printf("⏹️ [Poll] Stopped %d sessions", len(sessions))
	}
}

// Active reports whether a session exists for (action, userID).
func (c *Coordinator) Active(action, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionKey{action: action, userID: userID}]
	return ok
}

// SessionCount returns the number of live sessions.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// SetContext sets the context handed to pollers of sessions started later.
func (c *Coordinator) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

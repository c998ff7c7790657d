// Package area holds the types shared by the execution engine, the polling
// coordinator and the compiled-in plugins.
package area

import (
	"context"
	"fmt"
	"strings"
)

// Result codes returned by action evaluations.
const (
	CodeTriggered = 0
	CodeNoChange  = 1
	CodeNotLinked = -1
)

// Result is the outcome of one action evaluation. Yield is handed to the
// bound reaction when Code is CodeTriggered.
type Result struct {
	Code  int            `json:"code"`
	Yield map[string]any `json:"yield,omitempty"`
}

// Triggered reports whether the reaction should fire.
func (r Result) Triggered() bool {
	return r.Code == CodeTriggered
}

// NoChange is the common non-triggering result.
func NoChange() Result {
	return Result{Code: CodeNoChange}
}

// Input is what an action or reaction receives for one area.
type Input struct {
	AreaID string
	UserID string
	Config map[string]any
	// Yield carries the triggering action's yield into a reaction.
	Yield map[string]any
}

// ActionFunc evaluates an action for one area during a sweep.
type ActionFunc func(ctx context.Context, in Input) (Result, error)

// ReactionFunc executes an effect for one area.
type ReactionFunc func(ctx context.Context, in Input) (map[string]any, error)

// ReleaseFunc drops per-area state an action keeps outside the area row.
type ReleaseFunc func(ctx context.Context, areaID string) error

// Action is a catalog entry for a named condition source. Run may be nil for
// actions that are only evaluated by a poller. Release, when set, is called
// once an area stops using the action.
type Action struct {
	Name        string
	Description string
	Run         ActionFunc
	Release     ReleaseFunc
}

// Reaction is a catalog entry for a named effect.
type Reaction struct {
	Name        string
	Description string
	Run         ReactionFunc
}

// Plugin is a compiled-in bundle of actions and reactions. A plugin that
// also implements polling.Poller is registered with the coordinator.
type Plugin interface {
	Name() string
	Actions() []Action
	Reactions() []Reaction
}

// String reads a string config value, falling back to def.
func (in Input) String(key, def string) string {
	if v, ok := in.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int reads a numeric config value. JSON numbers decode as float64.
func (in Input) Int(key string, def int) int {
	switch v := in.Config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// Expand replaces {{key}} placeholders in s with values from vals. Unknown
// placeholders are left as they are.
func Expand(s string, vals map[string]any) string {
	if len(vals) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, len(vals)*2)
	for k, v := range vals {
		pairs = append(pairs, "{{"+k+"}}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

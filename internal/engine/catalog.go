package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pysugar/area-nexus/internal/area"
)

// CatalogEntry is the public view of one action or reaction.
type CatalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog maps names to the compiled-in action and reaction callbacks.
type Catalog struct {
	mu        sync.RWMutex
	actions   map[string]area.Action
	reactions map[string]area.Reaction
}

// NewCatalog creates a catalog and registers every action and reaction of
// the given plugins. Duplicate names panic at composition time.
func NewCatalog(plugins ...area.Plugin) *Catalog {
	c := &Catalog{
		actions:   make(map[string]area.Action),
		reactions: make(map[string]area.Reaction),
	}
	for _, p := range plugins {
		for _, a := range p.Actions() {
			if err := c.RegisterAction(a); err != nil {
				panic(fmt.Sprintf("plugin %s: %v", p.Name(), err))
			}
		}
		for _, r := range p.Reactions() {
			if err := c.RegisterReaction(r); err != nil {
				panic(fmt.Sprintf("plugin %s: %v", p.Name(), err))
			}
		}
	}
	return c
}

func (c *Catalog) RegisterAction(a area.Action) error {
	if a.Name == "" || a.Run == nil {
		return fmt.Errorf("action needs a name and a callback")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.actions[a.Name]; ok {
		return fmt.Errorf("action %q already registered", a.Name)
	}
	c.actions[a.Name] = a
	return nil
}

func (c *Catalog) RegisterReaction(r area.Reaction) error {
	if r.Name == "" || r.Run == nil {
		return fmt.Errorf("reaction needs a name and a callback")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.reactions[r.Name]; ok {
		return fmt.Errorf("reaction %q already registered", r.Name)
	}
	c.reactions[r.Name] = r
	return nil
}

func (c *Catalog) Action(name string) (area.Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.actions[name]
	return a, ok
}

func (c *Catalog) Reaction(name string) (area.Reaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reactions[name]
	return r, ok
}

// ListActions returns the actions sorted by name.
func (c *Catalog) ListActions() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, CatalogEntry{Name: a.Name, Description: a.Description})
	}
	sortEntries(out)
	return out
}

// ListReactions returns the reactions sorted by name.
func (c *Catalog) ListReactions() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(c.reactions))
	for _, r := range c.reactions {
		out = append(out, CatalogEntry{Name: r.Name, Description: r.Description})
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []CatalogEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

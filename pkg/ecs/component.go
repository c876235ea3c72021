package ecs

import (
	"sync"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// Built-in component names. Every entity carries both from creation.
const (
	ComponentMatchID  = "MATCH_ID"
	ComponentEntityID = "ENTITY_ID"

	// Ownership components consulted by player-scoped snapshot filtering.
	// Modules that track ownership register columns under these names.
	ComponentOwnerID  = "OWNER_ID"
	ComponentPlayerID = "PLAYER_ID"
)

// Component describes a named, typed column.
type Component struct {
	ID         types.ComponentID
	Name       string
	Permission types.Permission
}

// Registry allocates component ids and resolves names. One registry exists
// per container; ids are monotonic within it and released with it.
type Registry struct {
	mu     sync.RWMutex
	byID   map[types.ComponentID]Component
	byName map[string]Component
	nextID types.ComponentID

	matchID  types.ComponentID
	entityID types.ComponentID
}

// NewRegistry creates a registry with the built-in components pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[types.ComponentID]Component),
		byName: make(map[string]Component),
		nextID: 1,
	}
	matchID, _ := r.Register(ComponentMatchID, types.PermissionRead)
	entityID, _ := r.Register(ComponentEntityID, types.PermissionRead)
	r.matchID = matchID.ID
	r.entityID = entityID.ID
	return r
}

// Register allocates an id for a named component. Registering an existing
// name returns the existing component when the permission matches, and
// Conflict when it does not.
func (r *Registry) Register(name string, perm types.Permission) (Component, error) {
	if perm == "" {
		perm = types.PermissionWrite
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if existing.Permission != perm {
			return Component{}, errdefs.New(errdefs.KindConflict,
				"component %q already registered with permission %s", name, existing.Permission)
		}
		return existing, nil
	}

	c := Component{ID: r.nextID, Name: name, Permission: perm}
	r.nextID++
	r.byID[c.ID] = c
	r.byName[name] = c
	return c, nil
}

// Lookup resolves a component by id.
func (r *Registry) Lookup(id types.ComponentID) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// LookupName resolves a component by name.
func (r *Registry) LookupName(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// MatchID returns the id of the built-in MATCH_ID component.
func (r *Registry) MatchID() types.ComponentID { return r.matchID }

// EntityID returns the id of the built-in ENTITY_ID component.
func (r *Registry) EntityID() types.ComponentID { return r.entityID }

// permissionFor returns the permission of a component, defaulting to WRITE
// for columns attached without registration.
func (r *Registry) permissionFor(id types.ComponentID) types.Permission {
	if c, ok := r.Lookup(id); ok {
		return c.Permission
	}
	return types.PermissionWrite
}

package module

import (
	"time"

	"github.com/stormstack/lightning/pkg/command"
	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/types"
)

// ComponentSpec declares one component column contributed by a module.
type ComponentSpec struct {
	Name       string
	Permission types.Permission
}

// Context is handed to command handlers and systems during a tick. All
// access runs on the tick thread; blocking I/O is not permitted here.
type Context struct {
	Store     ecs.Store
	MatchID   types.MatchID
	PlayerID  types.PlayerID
	Tick      uint64
	Principal types.Principal

	// Spawn allocates an entity through the built-in superuser path,
	// attaching MATCH_ID, ENTITY_ID, and every enabled module's flag.
	Spawn func() (types.EntityID, error)

	// Despawn clears all module flags and deletes the entity slot.
	Despawn func(types.EntityID) error

	// Enqueue schedules a follow-up command for the NEXT tick. Arguments
	// must already be coerced.
	Enqueue func(name string, playerID types.PlayerID, args map[string]float32)

	// Export resolves another module's export bound at enable time.
	Export func(moduleName, key string) (any, bool)
}

// HandlerFunc executes one coerced command against the store.
type HandlerFunc func(ctx *Context, args map[string]float32) error

// CommandSpec declares a named command with its parameter schema.
type CommandSpec struct {
	Name        string
	Description string
	Params      command.Schema
	Handler     HandlerFunc
}

// SystemFunc runs once per tick over the post-drain store state.
type SystemFunc func(ctx *Context) error

// SystemSpec declares a named system.
type SystemSpec struct {
	Name string
	Fn   SystemFunc
}

// Requirement names a module dependency of a compound module. The resolved
// version must have the same major and at least the required minor.
type Requirement struct {
	Name    string
	Version Version
}

// Descriptor is the self-describing unit supplied by the module registry:
// components, commands, systems, an isolation flag, optional exports, and
// dependencies on other modules.
type Descriptor struct {
	Name       string
	Version    Version
	Components []ComponentSpec
	Commands   []CommandSpec
	Systems    []SystemSpec

	// Flag is the PRIVATE marker attached to every entity participating in
	// this module. Defaults to "<NAME>_FLAG".
	Flag string

	// Exports are callable handles other modules may resolve by key.
	Exports map[string]any

	Requires []Requirement
}

// FlagName returns the flag component name, applying the default.
func (d *Descriptor) FlagName() string {
	if d.Flag != "" {
		return d.Flag
	}
	return d.Name + "_FLAG"
}

// Instance is a descriptor bound to a container's component registry.
type Instance struct {
	Descriptor *Descriptor
	FlagID     types.ComponentID
	Components map[string]types.ComponentID
	EnabledAt  time.Time
}

// ComponentID resolves one of the module's component names.
func (in *Instance) ComponentID(name string) (types.ComponentID, bool) {
	id, ok := in.Components[name]
	return id, ok
}

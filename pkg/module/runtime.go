package module

import (
	"sort"
	"time"

	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// Runtime owns the module instances of one container. Enabling is a two
// pass operation: first every descriptor registers its components, then
// dependencies are bound and checked, so compound modules may reference
// each other's exports without constructor-time cycles.
type Runtime struct {
	registry *ecs.Registry
	modules  map[string]*Instance
	order    []string // dependency-topological, stable
	commands map[string]*boundCommand
}

type boundCommand struct {
	module string
	spec   *CommandSpec
}

// NewRuntime creates an empty runtime bound to a component registry.
func NewRuntime(registry *ecs.Registry) *Runtime {
	return &Runtime{
		registry: registry,
		modules:  make(map[string]*Instance),
		commands: make(map[string]*boundCommand),
	}
}

// Enable registers and binds a set of module descriptors. All-or-nothing:
// a version mismatch, missing dependency, or dependency cycle rejects the
// whole set and leaves the runtime unchanged.
func (r *Runtime) Enable(descriptors ...*Descriptor) error {
	staged := make(map[string]*Instance, len(descriptors))

	// Pass 1: register descriptors and their components.
	for _, d := range descriptors {
		if _, dup := staged[d.Name]; dup {
			return errdefs.New(errdefs.KindConflict, "module %q enabled twice", d.Name)
		}
		if _, exists := r.modules[d.Name]; exists {
			return errdefs.New(errdefs.KindConflict, "module %q already enabled", d.Name)
		}

		in := &Instance{
			Descriptor: d,
			Components: make(map[string]types.ComponentID, len(d.Components)),
			EnabledAt:  time.Now(),
		}
		flag, err := r.registry.Register(d.FlagName(), types.PermissionPrivate)
		if err != nil {
			return err
		}
		in.FlagID = flag.ID

		for _, cs := range d.Components {
			c, err := r.registry.Register(cs.Name, cs.Permission)
			if err != nil {
				return err
			}
			in.Components[cs.Name] = c.ID
		}
		staged[d.Name] = in
	}

	// Pass 2: bind requirements against staged plus already-enabled modules.
	resolve := func(name string) (*Instance, bool) {
		if in, ok := staged[name]; ok {
			return in, true
		}
		in, ok := r.modules[name]
		return in, ok
	}

	for _, in := range staged {
		for _, req := range in.Descriptor.Requires {
			dep, ok := resolve(req.Name)
			if !ok {
				return errdefs.New(errdefs.KindPreconditionFailed,
					"module %q requires %q which is not enabled", in.Descriptor.Name, req.Name)
			}
			if !dep.Descriptor.Version.Satisfies(req.Version) {
				return errdefs.New(errdefs.KindPreconditionFailed,
					"module %q requires %s >= %s, resolved %s",
					in.Descriptor.Name, req.Name, req.Version, dep.Descriptor.Version)
			}
		}
	}

	order, err := topoOrder(staged, r.modules, r.order)
	if err != nil {
		return err
	}

	// Commit.
	for name, in := range staged {
		r.modules[name] = in
		for i := range in.Descriptor.Commands {
			spec := &in.Descriptor.Commands[i]
			r.commands[spec.Name] = &boundCommand{module: name, spec: spec}
		}
	}
	r.order = order
	return nil
}

// topoOrder produces a stable dependency-topological order over the union
// of staged and already-enabled modules. A cycle in the requirement graph
// fails with UnresolvableModules.
func topoOrder(staged, enabled map[string]*Instance, prior []string) ([]string, error) {
	all := make(map[string]*Instance, len(staged)+len(enabled))
	for n, in := range enabled {
		all[n] = in
	}
	for n, in := range staged {
		all[n] = in
	}

	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(all))
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errdefs.New(errdefs.KindUnresolvableModules,
				"dependency cycle through module %q", name)
		}
		state[name] = visiting
		in := all[name]
		deps := make([]string, 0, len(in.Descriptor.Requires))
		for _, req := range in.Descriptor.Requires {
			deps = append(deps, req.Name)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := all[dep]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Enabled reports whether a module is enabled.
func (r *Runtime) Enabled(name string) bool {
	_, ok := r.modules[name]
	return ok
}

// Instance returns a module instance by name.
func (r *Runtime) Instance(name string) (*Instance, bool) {
	in, ok := r.modules[name]
	return in, ok
}

// Instances returns every enabled module in dependency-topological order.
func (r *Runtime) Instances() []*Instance {
	out := make([]*Instance, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.modules[name])
	}
	return out
}

// ModuleNames returns enabled module names in topological order.
func (r *Runtime) ModuleNames() []string {
	return append([]string(nil), r.order...)
}

// ResolveCommand finds a command by name across enabled modules.
func (r *Runtime) ResolveCommand(name string) (string, *CommandSpec, error) {
	bc, ok := r.commands[name]
	if !ok {
		return "", nil, errdefs.New(errdefs.KindUnknownCommand, "unknown command %q", name)
	}
	return bc.module, bc.spec, nil
}

// Commands returns every bound command, sorted by name.
func (r *Runtime) Commands() []*CommandSpec {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*CommandSpec, len(names))
	for i, n := range names {
		out[i] = r.commands[n].spec
	}
	return out
}

// Export resolves a module export by module name and key.
func (r *Runtime) Export(moduleName, key string) (any, bool) {
	in, ok := r.modules[moduleName]
	if !ok {
		return nil, false
	}
	v, ok := in.Descriptor.Exports[key]
	return v, ok
}

// Spawn allocates an entity via the superuser path: MATCH_ID and ENTITY_ID
// built-ins plus the flag component of each named module (I1). With no
// names, every enabled module's flag is attached.
func (r *Runtime) Spawn(store ecs.Store, matchID types.MatchID, moduleNames ...string) (types.EntityID, error) {
	su := types.SuperuserPrincipal()
	id, err := store.CreateEntityForMatch(su, matchID)
	if err != nil {
		return 0, err
	}
	names := moduleNames
	if len(names) == 0 {
		names = r.order
	}
	for _, name := range names {
		in, ok := r.modules[name]
		if !ok {
			continue
		}
		if err := store.Attach(su, id, in.FlagID, 1); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Despawn clears every module flag and deletes the entity slot.
func (r *Runtime) Despawn(store ecs.Store, id types.EntityID) error {
	su := types.SuperuserPrincipal()
	for _, name := range r.order {
		in := r.modules[name]
		if err := store.Remove(su, id, in.FlagID); err != nil {
			return err
		}
	}
	return store.DeleteEntity(su, id)
}

package module

import (
	"github.com/stormstack/lightning/pkg/command"
	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/types"
)

// Built-in modules shipped with every engine node. External game modules
// come from the module registry; these two cover entity lifecycle and grid
// placement, and are what the end-to-end scenarios drive.

// ComponentEntityType encodes the module-defined entity kind.
const ComponentEntityType = "ENTITY_TYPE"

// Grid position component names.
const (
	ComponentPositionX = "POSITION_X"
	ComponentPositionY = "POSITION_Y"
)

// EntityModule provides spawn/remove commands and the ownership columns
// consulted by player-scoped snapshots.
func EntityModule() *Descriptor {
	return &Descriptor{
		Name:    "EntityModule",
		Version: MustVersion("1.0.0"),
		Components: []ComponentSpec{
			{Name: ecs.ComponentEntityID, Permission: types.PermissionRead},
			{Name: ComponentEntityType, Permission: types.PermissionRead},
			{Name: ecs.ComponentOwnerID, Permission: types.PermissionRead},
		},
		Commands: []CommandSpec{
			{
				Name:        "spawn",
				Description: "Create an entity owned by a player",
				Params: command.Schema{
					"matchId":    command.TypeInt,
					"playerId":   command.TypePlayerID,
					"entityType": command.TypeInt,
				},
				Handler: handleSpawn,
			},
			{
				Name:        "removeEntity",
				Description: "Remove an entity and all its components",
				Params: command.Schema{
					"entityId": command.TypeEntityID,
				},
				Handler: handleRemoveEntity,
			},
		},
	}
}

func handleSpawn(ctx *Context, args map[string]float32) error {
	id, err := ctx.Spawn()
	if err != nil {
		return err
	}
	reg := ctx.Store.Registry()
	entityType, _ := reg.LookupName(ComponentEntityType)
	ownerID, _ := reg.LookupName(ecs.ComponentOwnerID)
	return ctx.Store.AttachBatch(ctx.Principal, id, map[types.ComponentID]float32{
		entityType.ID: args["entityType"],
		ownerID.ID:    args["playerId"],
	})
}

func handleRemoveEntity(ctx *Context, args map[string]float32) error {
	return ctx.Despawn(types.EntityID(args["entityId"]))
}

// GridMapModule places entities on a 2D grid. Depends on EntityModule for
// the spawn path.
func GridMapModule() *Descriptor {
	return &Descriptor{
		Name:    "GridMapModule",
		Version: MustVersion("1.0.0"),
		Components: []ComponentSpec{
			{Name: ComponentPositionX, Permission: types.PermissionWrite},
			{Name: ComponentPositionY, Permission: types.PermissionWrite},
		},
		Commands: []CommandSpec{
			{
				Name:        "setPosition",
				Description: "Place an entity at grid coordinates",
				Params: command.Schema{
					"entityId": command.TypeEntityID,
					"x":        command.TypeFloat,
					"y":        command.TypeFloat,
				},
				Handler: handleSetPosition,
			},
		},
		Requires: []Requirement{
			{Name: "EntityModule", Version: MustVersion("1.0")},
		},
	}
}

func handleSetPosition(ctx *Context, args map[string]float32) error {
	reg := ctx.Store.Registry()
	x, _ := reg.LookupName(ComponentPositionX)
	y, _ := reg.LookupName(ComponentPositionY)
	return ctx.Store.AttachBatch(ctx.Principal, types.EntityID(args["entityId"]), map[types.ComponentID]float32{
		x.ID: args["x"],
		y.ID: args["y"],
	})
}

// Builtins returns descriptors for every built-in module by name. Unknown
// names are skipped; callers validate against the registry first.
func Builtins(names []string) []*Descriptor {
	factories := map[string]func() *Descriptor{
		"EntityModule":  EntityModule,
		"GridMapModule": GridMapModule,
	}
	out := make([]*Descriptor, 0, len(names))
	for _, n := range names {
		if f, ok := factories[n]; ok {
			out = append(out, f())
		}
	}
	return out
}

// KnownModules returns the names of every built-in module.
func KnownModules() []string {
	return []string{"EntityModule", "GridMapModule"}
}

// KnownModule reports whether a module name resolves to a built-in.
func KnownModule(name string) bool {
	switch name {
	case "EntityModule", "GridMapModule":
		return true
	}
	return false
}

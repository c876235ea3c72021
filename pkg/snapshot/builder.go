package snapshot

import (
	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/types"
)

// Built pairs a wire snapshot with the per-module entity order used to
// compute deltas. Built values are immutable once returned and may be
// shared among concurrent fanout clients.
type Built struct {
	Snap *types.Snapshot

	// Entities holds, per module name, the ascending entity ids behind the
	// module's column slots.
	Entities map[string][]types.EntityID
}

// Builder produces full snapshots from a container's store and runtime.
type Builder struct {
	store   ecs.Store
	runtime *module.Runtime
}

// NewBuilder creates a snapshot builder for one container.
func NewBuilder(store ecs.Store, runtime *module.Runtime) *Builder {
	return &Builder{store: store, runtime: runtime}
}

// Scope restricts a snapshot to one player's view.
type Scope struct {
	PlayerID types.PlayerID
}

// Full builds the complete snapshot of one match at the given tick.
// Construction runs on the tick thread after systems; no store mutation is
// permitted while it runs.
func (b *Builder) Full(matchID types.MatchID, tick uint64, scope *Scope) *Built {
	reg := b.store.Registry()
	snap := &types.Snapshot{MatchID: matchID, Tick: tick}
	built := &Built{Snap: snap, Entities: make(map[string][]types.EntityID)}

	for _, in := range b.runtime.Instances() {
		entities := b.matchEntities(in, matchID, scope)
		ms := types.ModuleSnapshot{
			Name:    in.Descriptor.Name,
			Version: in.Descriptor.Version.String(),
		}

		for _, cs := range in.Descriptor.Components {
			// PRIVATE columns never leave the engine.
			if cs.Permission == types.PermissionPrivate {
				continue
			}
			cid, ok := in.ComponentID(cs.Name)
			if !ok {
				continue
			}
			col := types.ComponentColumn{
				Name:   cs.Name,
				Values: make([]float32, len(entities)),
			}
			for i, e := range entities {
				if scope != nil && cs.Permission != types.PermissionRead && !b.ownedBy(e, scope.PlayerID, reg) {
					col.Values[i] = ecs.Absent
					continue
				}
				col.Values[i] = b.store.Get(e, cid)
			}
			ms.Components = append(ms.Components, col)
		}

		snap.Modules = append(snap.Modules, ms)
		built.Entities[in.Descriptor.Name] = entities
	}
	return built
}

// matchEntities returns the module's flagged entities belonging to a match,
// ascending by id, optionally narrowed to a player's view.
func (b *Builder) matchEntities(in *module.Instance, matchID types.MatchID, scope *Scope) []types.EntityID {
	reg := b.store.Registry()
	flagged := b.store.EntitiesWith(in.FlagID)

	worldVisible := false
	for _, cs := range in.Descriptor.Components {
		if cs.Permission == types.PermissionRead {
			worldVisible = true
			break
		}
	}

	out := make([]types.EntityID, 0, len(flagged))
	for _, e := range flagged {
		if types.MatchID(b.store.Get(e, reg.MatchID())) != matchID {
			continue
		}
		if scope != nil && !worldVisible && !b.ownedBy(e, scope.PlayerID, reg) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (b *Builder) ownedBy(e types.EntityID, player types.PlayerID, reg *ecs.Registry) bool {
	if owner, ok := reg.LookupName(ecs.ComponentOwnerID); ok {
		if v := b.store.Get(e, owner.ID); !ecs.IsAbsent(v) && types.PlayerID(v) == player {
			return true
		}
	}
	if pid, ok := reg.LookupName(ecs.ComponentPlayerID); ok {
		if v := b.store.Get(e, pid.ID); !ecs.IsAbsent(v) && types.PlayerID(v) == player {
			return true
		}
	}
	return false
}

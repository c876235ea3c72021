package snapshot

import (
	"math"
	"sort"

	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// Diff computes the delta between two consecutive built snapshots of one
// match. Entity slots are matched by entity id; a component attached to an
// already-known entity surfaces in changed, added is reserved for new
// entities. Values of added entities also arrive through changed entries at
// their new indices.
func Diff(prior, next *Built) *types.DeltaSnapshot {
	delta := &types.DeltaSnapshot{
		MatchID:  next.Snap.MatchID,
		FromTick: prior.Snap.Tick,
		ToTick:   next.Snap.Tick,
	}

	priorModules := make(map[string]struct{}, len(prior.Snap.Modules))
	for _, ms := range prior.Snap.Modules {
		priorModules[ms.Name] = struct{}{}
	}

	for _, ms := range next.Snap.Modules {
		md := types.ModuleDelta{Name: ms.Name, Version: ms.Version}

		// A module enabled since the prior snapshot has no counterpart to
		// diff against: announce its column set so Apply can seed it.
		if _, ok := priorModules[ms.Name]; !ok {
			for _, col := range ms.Components {
				md.Components = append(md.Components, col.Name)
			}
		}

		nextEnts := next.Entities[ms.Name]
		priorEnts := prior.Entities[ms.Name]

		priorIndex := make(map[types.EntityID]int, len(priorEnts))
		for i, e := range priorEnts {
			priorIndex[e] = i
		}
		nextSet := make(map[types.EntityID]struct{}, len(nextEnts))
		for _, e := range nextEnts {
			nextSet[e] = struct{}{}
		}

		for _, e := range nextEnts {
			if _, ok := priorIndex[e]; !ok {
				md.Added = append(md.Added, e)
			}
		}
		for _, e := range priorEnts {
			if _, ok := nextSet[e]; !ok {
				md.Removed = append(md.Removed, e)
			}
		}

		priorCols := priorColumns(prior, ms.Name)
		for _, col := range ms.Components {
			priorCol := priorCols[col.Name]
			for i, e := range nextEnts {
				newVal := col.Values[i]
				oldVal := ecs.Absent
				if pi, ok := priorIndex[e]; ok && priorCol != nil && pi < len(priorCol) {
					oldVal = priorCol[pi]
				}
				if !sameValue(oldVal, newVal) {
					md.Changed = append(md.Changed, types.ValueChange{
						Index:     i,
						Component: col.Name,
						Value:     newVal,
						EntityID:  e,
					})
				}
			}
		}

		delta.Modules = append(delta.Modules, md)
	}
	return delta
}

// Apply reconstructs the next snapshot from a prior one and a delta.
// Apply(prior, Diff(prior, next)) is value-equal to next.
func Apply(prior *Built, delta *types.DeltaSnapshot) (*Built, error) {
	if prior.Snap.MatchID != delta.MatchID {
		return nil, errdefs.BadRequest("delta for match %d applied to match %d", delta.MatchID, prior.Snap.MatchID)
	}
	if prior.Snap.Tick != delta.FromTick {
		return nil, errdefs.BadRequest("delta from tick %d applied to tick %d", delta.FromTick, prior.Snap.Tick)
	}

	next := &Built{
		Snap:     &types.Snapshot{MatchID: delta.MatchID, Tick: delta.ToTick},
		Entities: make(map[string][]types.EntityID),
	}

	for mi, pm := range prior.Snap.Modules {
		var md *types.ModuleDelta
		for i := range delta.Modules {
			if delta.Modules[i].Name == pm.Name {
				md = &delta.Modules[i]
				break
			}
		}

		priorEnts := prior.Entities[pm.Name]
		ents := rebuildEntityOrder(priorEnts, md)
		next.Entities[pm.Name] = ents

		index := make(map[types.EntityID]int, len(ents))
		for i, e := range ents {
			index[e] = i
		}
		priorIndex := make(map[types.EntityID]int, len(priorEnts))
		for i, e := range priorEnts {
			priorIndex[e] = i
		}

		nm := types.ModuleSnapshot{Name: pm.Name, Version: prior.Snap.Modules[mi].Version}
		for _, pc := range pm.Components {
			col := types.ComponentColumn{Name: pc.Name, Values: make([]float32, len(ents))}
			for i, e := range ents {
				if pi, ok := priorIndex[e]; ok && pi < len(pc.Values) {
					col.Values[i] = pc.Values[pi]
				} else {
					col.Values[i] = ecs.Absent
				}
			}
			nm.Components = append(nm.Components, col)
		}

		if md != nil {
			for _, ch := range md.Changed {
				i, ok := index[ch.EntityID]
				if !ok {
					return nil, errdefs.BadRequest("change for unknown entity %d in module %s", ch.EntityID, pm.Name)
				}
				applied := false
				for ci := range nm.Components {
					if nm.Components[ci].Name == ch.Component {
						nm.Components[ci].Values[i] = ch.Value
						applied = true
						break
					}
				}
				if !applied {
					return nil, errdefs.BadRequest("change for unknown component %s in module %s", ch.Component, pm.Name)
				}
			}
		}

		next.Snap.Modules = append(next.Snap.Modules, nm)
	}

	// Modules that first appear in the delta are rebuilt from scratch:
	// their entities all arrive as added, their values as changes.
	known := make(map[string]struct{}, len(prior.Snap.Modules))
	for _, pm := range prior.Snap.Modules {
		known[pm.Name] = struct{}{}
	}
	for i := range delta.Modules {
		md := &delta.Modules[i]
		if _, ok := known[md.Name]; ok {
			continue
		}
		ents := rebuildEntityOrder(nil, md)
		next.Entities[md.Name] = ents

		index := make(map[types.EntityID]int, len(ents))
		for i, e := range ents {
			index[e] = i
		}

		nm := types.ModuleSnapshot{Name: md.Name, Version: md.Version}
		for _, name := range md.Components {
			col := types.ComponentColumn{Name: name, Values: make([]float32, len(ents))}
			for i := range col.Values {
				col.Values[i] = ecs.Absent
			}
			nm.Components = append(nm.Components, col)
		}

		for _, ch := range md.Changed {
			i, ok := index[ch.EntityID]
			if !ok {
				return nil, errdefs.BadRequest("change for unknown entity %d in module %s", ch.EntityID, md.Name)
			}
			applied := false
			for ci := range nm.Components {
				if nm.Components[ci].Name == ch.Component {
					nm.Components[ci].Values[i] = ch.Value
					applied = true
					break
				}
			}
			if !applied {
				return nil, errdefs.BadRequest("change for unknown component %s in module %s", ch.Component, md.Name)
			}
		}

		next.Snap.Modules = append(next.Snap.Modules, nm)
	}
	return next, nil
}

func rebuildEntityOrder(prior []types.EntityID, md *types.ModuleDelta) []types.EntityID {
	removed := make(map[types.EntityID]struct{})
	if md != nil {
		for _, e := range md.Removed {
			removed[e] = struct{}{}
		}
	}
	out := make([]types.EntityID, 0, len(prior))
	for _, e := range prior {
		if _, gone := removed[e]; !gone {
			out = append(out, e)
		}
	}
	if md != nil {
		out = append(out, md.Added...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func priorColumns(prior *Built, moduleName string) map[string][]float32 {
	for _, ms := range prior.Snap.Modules {
		if ms.Name == moduleName {
			out := make(map[string][]float32, len(ms.Components))
			for _, c := range ms.Components {
				out[c.Name] = c.Values
			}
			return out
		}
	}
	return nil
}

// sameValue treats two NaN sentinels as equal.
func sameValue(a, b float32) bool {
	if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		return true
	}
	return a == b
}

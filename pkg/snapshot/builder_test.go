package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/types"
)

type world struct {
	reg     *ecs.Registry
	store   *ecs.MapStore
	runtime *module.Runtime
	builder *Builder
}

func newWorld(t *testing.T) *world {
	t.Helper()
	reg := ecs.NewRegistry()
	store := ecs.NewMapStore(reg, 0)
	rt := module.NewRuntime(reg)
	require.NoError(t, rt.Enable(module.EntityModule(), module.GridMapModule()))
	return &world{reg: reg, store: store, runtime: rt, builder: NewBuilder(store, rt)}
}

func (w *world) spawn(t *testing.T, matchID types.MatchID, owner types.PlayerID, x, y float32) types.EntityID {
	t.Helper()
	sys := types.SuperuserPrincipal()
	id, err := w.runtime.Spawn(w.store, matchID)
	require.NoError(t, err)

	ownerCol, _ := w.reg.LookupName(ecs.ComponentOwnerID)
	xCol, _ := w.reg.LookupName(module.ComponentPositionX)
	yCol, _ := w.reg.LookupName(module.ComponentPositionY)
	require.NoError(t, w.store.Attach(sys, id, ownerCol.ID, float32(owner)))
	require.NoError(t, w.store.Attach(sys, id, xCol.ID, x))
	require.NoError(t, w.store.Attach(sys, id, yCol.ID, y))
	return id
}

func findModule(t *testing.T, s *types.Snapshot, name string) types.ModuleSnapshot {
	t.Helper()
	for _, m := range s.Modules {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("module %s not in snapshot", name)
	return types.ModuleSnapshot{}
}

func findColumn(t *testing.T, m types.ModuleSnapshot, name string) types.ComponentColumn {
	t.Helper()
	for _, c := range m.Components {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("component %s not in module %s", name, m.Name)
	return types.ComponentColumn{}
}

// TestFullSnapshotColumnar verifies column alignment and match filtering
func TestFullSnapshotColumnar(t *testing.T) {
	w := newWorld(t)

	e1 := w.spawn(t, 1, 10, 1, 2)
	e2 := w.spawn(t, 1, 11, 3, 4)
	w.spawn(t, 2, 10, 9, 9) // other match, must be excluded

	built := w.builder.Full(1, 5, nil)
	require.Equal(t, types.MatchID(1), built.Snap.MatchID)
	require.Equal(t, uint64(5), built.Snap.Tick)

	grid := findModule(t, built.Snap, "GridMapModule")
	xs := findColumn(t, grid, module.ComponentPositionX)
	ys := findColumn(t, grid, module.ComponentPositionY)

	require.Equal(t, []types.EntityID{e1, e2}, built.Entities["GridMapModule"])
	assert.Equal(t, []float32{1, 3}, xs.Values)
	assert.Equal(t, []float32{2, 4}, ys.Values)
	// Every column in a module has the same length.
	for _, c := range grid.Components {
		assert.Len(t, c.Values, 2)
	}
}

// TestFullSnapshotOmitsPrivate verifies flag columns never serialize
func TestFullSnapshotOmitsPrivate(t *testing.T) {
	w := newWorld(t)
	w.spawn(t, 1, 10, 0, 0)

	built := w.builder.Full(1, 1, nil)
	for _, m := range built.Snap.Modules {
		for _, c := range m.Components {
			assert.NotContains(t, c.Name, "_FLAG")
		}
	}
}

// TestPlayerScopedSnapshot verifies ownership filtering of writable columns
func TestPlayerScopedSnapshot(t *testing.T) {
	w := newWorld(t)

	mine := w.spawn(t, 1, 10, 1, 1)
	theirs := w.spawn(t, 1, 11, 2, 2)

	built := w.builder.Full(1, 3, &Scope{PlayerID: 10})

	// Entity rows survive because EntityModule has READ columns, but the
	// writable grid values of foreign entities are masked.
	grid := findModule(t, built.Snap, "GridMapModule")
	ents := built.Entities["GridMapModule"]
	require.Equal(t, []types.EntityID{mine, theirs}, ents)

	xs := findColumn(t, grid, module.ComponentPositionX)
	assert.Equal(t, float32(1), xs.Values[0])
	assert.True(t, ecs.IsAbsent(xs.Values[1]))

	entity := findModule(t, built.Snap, "EntityModule")
	owners := findColumn(t, entity, "OWNER_ID")
	assert.Equal(t, float32(10), owners.Values[0])
	assert.Equal(t, float32(11), owners.Values[1], "read columns stay world-visible")
}

// TestToLegacy verifies the nested map conversion
func TestToLegacy(t *testing.T) {
	w := newWorld(t)
	w.spawn(t, 1, 10, 7, 8)

	built := w.builder.Full(1, 2, nil)
	legacy := ToLegacy(built.Snap)

	assert.Equal(t, types.MatchID(1), legacy.MatchID)
	assert.Equal(t, uint64(2), legacy.Tick)
	assert.Equal(t, []float32{7}, legacy.Data["GridMapModule"][module.ComponentPositionX])
	assert.Equal(t, []float32{8}, legacy.Data["GridMapModule"][module.ComponentPositionY])
}

package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

func newTestStore(t *testing.T) (*MapStore, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return NewMapStore(reg, 0), reg
}

// TestCreateEntityForMatch verifies the built-in columns appear on creation
func TestCreateEntityForMatch(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()

	id, err := store.CreateEntityForMatch(sys, 42)
	require.NoError(t, err)
	assert.Equal(t, types.EntityID(1), id)

	assert.Equal(t, float32(42), store.Get(id, reg.MatchID()))
	assert.Equal(t, float32(id), store.Get(id, reg.EntityID()))
	assert.Equal(t, 1, store.EntityCount())
}

// TestCreateEntityCapacity verifies the slot bound is enforced
func TestCreateEntityCapacity(t *testing.T) {
	reg := NewRegistry()
	store := NewMapStore(reg, 2)
	sys := types.SuperuserPrincipal()

	_, err := store.CreateEntityForMatch(sys, 1)
	require.NoError(t, err)
	_, err = store.CreateEntityForMatch(sys, 1)
	require.NoError(t, err)

	_, err = store.CreateEntityForMatch(sys, 1)
	assert.True(t, errdefs.IsKind(err, errdefs.KindCapacityExhausted))
}

// TestAttachGetAbsent verifies the missing-value sentinel
func TestAttachGetAbsent(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()

	pos, err := reg.Register("POSITION_X", types.PermissionWrite)
	require.NoError(t, err)

	e, err := store.CreateEntityForMatch(sys, 7)
	require.NoError(t, err)

	assert.True(t, IsAbsent(store.Get(e, pos.ID)))
	assert.False(t, store.Has(e, pos.ID))

	require.NoError(t, store.Attach(sys, e, pos.ID, 3.5))
	assert.Equal(t, float32(3.5), store.Get(e, pos.ID))
	assert.True(t, store.Has(e, pos.ID))

	require.NoError(t, store.Remove(sys, e, pos.ID))
	assert.True(t, IsAbsent(store.Get(e, pos.ID)))
}

// TestPrivatePermission verifies only superusers write private columns
func TestPrivatePermission(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()
	player := types.Principal{PlayerID: 9, Name: "alice"}

	flag, err := reg.Register("MODULE_FLAG", types.PermissionPrivate)
	require.NoError(t, err)

	e, err := store.CreateEntityForMatch(sys, 1)
	require.NoError(t, err)

	err = store.Attach(player, e, flag.ID, 1)
	assert.True(t, errdefs.IsKind(err, errdefs.KindPermissionDenied))
	assert.False(t, store.Has(e, flag.ID))

	require.NoError(t, store.Attach(sys, e, flag.ID, 1))
	assert.True(t, store.Has(e, flag.ID))

	// Reads are unaffected by write permissions.
	assert.Equal(t, float32(1), store.Get(e, flag.ID))
}

// TestAttachBatchAtomic verifies a denied batch leaves the store untouched
func TestAttachBatchAtomic(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()
	player := types.Principal{PlayerID: 9}

	open, err := reg.Register("HEALTH", types.PermissionWrite)
	require.NoError(t, err)
	flag, err := reg.Register("HIDDEN", types.PermissionPrivate)
	require.NoError(t, err)

	e, err := store.CreateEntityForMatch(sys, 1)
	require.NoError(t, err)

	err = store.AttachBatch(player, e, map[types.ComponentID]float32{
		open.ID: 100,
		flag.ID: 1,
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindPermissionDenied))
	assert.False(t, store.Has(e, open.ID), "denied batch must not partially apply")
	assert.False(t, store.Has(e, flag.ID))

	require.NoError(t, store.AttachBatch(sys, e, map[types.ComponentID]float32{
		open.ID: 100,
		flag.ID: 1,
	}))
	assert.Equal(t, []float32{100, 1}, store.GetBatch(e, []types.ComponentID{open.ID, flag.ID}))
}

// TestDeleteEntityIdempotent verifies deletion clears columns and repeats safely
func TestDeleteEntityIdempotent(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()

	hp, err := reg.Register("HEALTH", types.PermissionWrite)
	require.NoError(t, err)

	e, err := store.CreateEntityForMatch(sys, 1)
	require.NoError(t, err)
	require.NoError(t, store.Attach(sys, e, hp.ID, 50))

	require.NoError(t, store.DeleteEntity(sys, e))
	assert.Equal(t, 0, store.EntityCount())
	assert.True(t, IsAbsent(store.Get(e, hp.ID)))

	// Deleting again is a no-op, not an error.
	require.NoError(t, store.DeleteEntity(sys, e))
}

// TestEntitiesWith verifies intersection queries return sorted ids
func TestEntitiesWith(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()

	x, _ := reg.Register("POS_X", types.PermissionWrite)
	y, _ := reg.Register("POS_Y", types.PermissionWrite)

	e1, _ := store.CreateEntityForMatch(sys, 1)
	e2, _ := store.CreateEntityForMatch(sys, 1)
	e3, _ := store.CreateEntityForMatch(sys, 1)

	require.NoError(t, store.Attach(sys, e3, x.ID, 1))
	require.NoError(t, store.Attach(sys, e3, y.ID, 1))
	require.NoError(t, store.Attach(sys, e1, x.ID, 2))
	require.NoError(t, store.Attach(sys, e1, y.ID, 2))
	require.NoError(t, store.Attach(sys, e2, x.ID, 3))

	got := store.EntitiesWith(x.ID, y.ID)
	assert.Equal(t, []types.EntityID{e1, e3}, got)

	assert.Equal(t, []types.EntityID{e1, e2, e3}, store.EntitiesWith(x.ID))
	assert.Nil(t, store.EntitiesWith())
}

// TestQueryCacheInvalidation verifies attaches and removes refresh cached queries
func TestQueryCacheInvalidation(t *testing.T) {
	store, reg := newTestStore(t)
	sys := types.SuperuserPrincipal()

	x, _ := reg.Register("POS_X", types.PermissionWrite)

	e1, _ := store.CreateEntityForMatch(sys, 1)
	require.NoError(t, store.Attach(sys, e1, x.ID, 1))

	assert.Equal(t, []types.EntityID{e1}, store.EntitiesWith(x.ID))

	// New membership must show up despite the cached result.
	e2, _ := store.CreateEntityForMatch(sys, 1)
	require.NoError(t, store.Attach(sys, e2, x.ID, 2))
	assert.Equal(t, []types.EntityID{e1, e2}, store.EntitiesWith(x.ID))

	// Value-only writes keep membership, removal drops it.
	require.NoError(t, store.Attach(sys, e1, x.ID, 9))
	assert.Equal(t, []types.EntityID{e1, e2}, store.EntitiesWith(x.ID))

	require.NoError(t, store.Remove(sys, e1, x.ID))
	assert.Equal(t, []types.EntityID{e2}, store.EntitiesWith(x.ID))

	require.NoError(t, store.DeleteEntity(sys, e2))
	assert.Empty(t, store.EntitiesWith(x.ID))
}

// TestRegistryConflict verifies duplicate registrations with mismatched permissions fail
func TestRegistryConflict(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Register("SCORE", types.PermissionRead)
	require.NoError(t, err)

	again, err := reg.Register("SCORE", types.PermissionRead)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = reg.Register("SCORE", types.PermissionWrite)
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict))
}

// TestLockedStore verifies the decorator delegates and stays consistent under use
func TestLockedStore(t *testing.T) {
	reg := NewRegistry()
	store := NewLocked(NewMapStore(reg, 0))
	sys := types.SuperuserPrincipal()

	hp, _ := reg.Register("HEALTH", types.PermissionWrite)

	e, err := store.CreateEntityForMatch(sys, 5)
	require.NoError(t, err)
	require.NoError(t, store.Attach(sys, e, hp.ID, 10))

	assert.Equal(t, float32(10), store.Get(e, hp.ID))
	assert.Equal(t, []types.EntityID{e}, store.EntitiesWith(hp.ID))
	assert.Equal(t, 1, store.EntityCount())
	assert.Same(t, reg, store.Registry())
}

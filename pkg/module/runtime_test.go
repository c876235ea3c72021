package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

func newTestRuntime(t *testing.T) (*Runtime, *ecs.Registry) {
	t.Helper()
	reg := ecs.NewRegistry()
	return NewRuntime(reg), reg
}

// TestEnableBuiltins verifies the built-in pair enables in dependency order
func TestEnableBuiltins(t *testing.T) {
	rt, reg := newTestRuntime(t)

	require.NoError(t, rt.Enable(GridMapModule(), EntityModule()))

	assert.True(t, rt.Enabled("EntityModule"))
	assert.True(t, rt.Enabled("GridMapModule"))
	assert.Equal(t, []string{"EntityModule", "GridMapModule"}, rt.ModuleNames())

	// Flag components register as private.
	flag, ok := reg.LookupName("EntityModule_FLAG")
	require.True(t, ok)
	assert.Equal(t, types.PermissionPrivate, flag.Permission)

	_, ok = reg.LookupName(ComponentPositionX)
	assert.True(t, ok)
}

// TestEnableMissingDependency verifies unmet requirements reject the whole set
func TestEnableMissingDependency(t *testing.T) {
	rt, reg := newTestRuntime(t)

	err := rt.Enable(GridMapModule())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
	assert.False(t, rt.Enabled("GridMapModule"))
	_ = reg
}

// TestEnableVersionMismatch verifies major and minor requirement checks
func TestEnableVersionMismatch(t *testing.T) {
	rt, _ := newTestRuntime(t)

	base := &Descriptor{Name: "BaseModule", Version: MustVersion("1.0.0")}
	needsNewer := &Descriptor{
		Name:     "AddonModule",
		Version:  MustVersion("1.0.0"),
		Requires: []Requirement{{Name: "BaseModule", Version: MustVersion("1.2")}},
	}

	err := rt.Enable(base, needsNewer)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))

	needsSame := &Descriptor{
		Name:     "AddonModule",
		Version:  MustVersion("1.0.0"),
		Requires: []Requirement{{Name: "BaseModule", Version: MustVersion("1.0")}},
	}
	require.NoError(t, rt.Enable(base, needsSame))
}

// TestEnableCycle verifies a requirement cycle fails with UnresolvableModules
func TestEnableCycle(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := &Descriptor{
		Name: "AlphaModule", Version: MustVersion("1.0.0"),
		Requires: []Requirement{{Name: "BetaModule", Version: MustVersion("1.0")}},
	}
	b := &Descriptor{
		Name: "BetaModule", Version: MustVersion("1.0.0"),
		Requires: []Requirement{{Name: "AlphaModule", Version: MustVersion("1.0")}},
	}

	err := rt.Enable(a, b)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindUnresolvableModules))
	assert.False(t, rt.Enabled("AlphaModule"))
}

// TestEnableTwice verifies duplicate enablement conflicts
func TestEnableTwice(t *testing.T) {
	rt, _ := newTestRuntime(t)

	require.NoError(t, rt.Enable(EntityModule()))
	err := rt.Enable(EntityModule())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict))
}

// TestResolveCommand verifies command lookup across enabled modules
func TestResolveCommand(t *testing.T) {
	rt, _ := newTestRuntime(t)
	require.NoError(t, rt.Enable(EntityModule(), GridMapModule()))

	mod, spec, err := rt.ResolveCommand("setPosition")
	require.NoError(t, err)
	assert.Equal(t, "GridMapModule", mod)
	assert.Equal(t, "setPosition", spec.Name)

	_, _, err = rt.ResolveCommand("teleport")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindUnknownCommand))

	names := make([]string, 0)
	for _, c := range rt.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"removeEntity", "setPosition", "spawn"}, names)
}

// TestSpawnDespawn verifies the superuser spawn path attaches module flags
func TestSpawnDespawn(t *testing.T) {
	rt, reg := newTestRuntime(t)
	require.NoError(t, rt.Enable(EntityModule(), GridMapModule()))
	store := ecs.NewMapStore(reg, 0)

	id, err := rt.Spawn(store, 77)
	require.NoError(t, err)

	entityFlag, _ := reg.LookupName("EntityModule_FLAG")
	gridFlag, _ := reg.LookupName("GridMapModule_FLAG")
	assert.True(t, store.Has(id, entityFlag.ID))
	assert.True(t, store.Has(id, gridFlag.ID))
	assert.Equal(t, float32(77), store.Get(id, reg.MatchID()))

	require.NoError(t, rt.Despawn(store, id))
	assert.Equal(t, 0, store.EntityCount())
}

// TestSpawnSelectedModules verifies flag attachment honors the module list
func TestSpawnSelectedModules(t *testing.T) {
	rt, reg := newTestRuntime(t)
	require.NoError(t, rt.Enable(EntityModule(), GridMapModule()))
	store := ecs.NewMapStore(reg, 0)

	id, err := rt.Spawn(store, 1, "EntityModule")
	require.NoError(t, err)

	entityFlag, _ := reg.LookupName("EntityModule_FLAG")
	gridFlag, _ := reg.LookupName("GridMapModule_FLAG")
	assert.True(t, store.Has(id, entityFlag.ID))
	assert.False(t, store.Has(id, gridFlag.ID))
}

// TestVersionParsing verifies accepted and rejected version forms
func TestVersionParsing(t *testing.T) {
	v, err := ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2}, v)

	v, err = ParseVersion("2.3.4")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 2, Minor: 3, Patch: 4}, v)
	assert.Equal(t, "2.3.4", v.String())

	for _, bad := range []string{"", "1", "1.2.3.4", "a.b", "-1.0"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, "version %q must be rejected", bad)
	}
}

// TestVersionSatisfies verifies same-major minimum-minor matching
func TestVersionSatisfies(t *testing.T) {
	assert.True(t, MustVersion("1.2.0").Satisfies(MustVersion("1.0")))
	assert.True(t, MustVersion("1.2.0").Satisfies(MustVersion("1.2")))
	assert.False(t, MustVersion("1.2.0").Satisfies(MustVersion("1.3")))
	assert.False(t, MustVersion("2.0.0").Satisfies(MustVersion("1.0")))
}

// TestKnownModules verifies the built-in catalog
func TestKnownModules(t *testing.T) {
	assert.Equal(t, []string{"EntityModule", "GridMapModule"}, KnownModules())
	assert.True(t, KnownModule("EntityModule"))
	assert.False(t, KnownModule("PhysicsModule"))

	descriptors := Builtins([]string{"GridMapModule", "PhysicsModule"})
	require.Len(t, descriptors, 1)
	assert.Equal(t, "GridMapModule", descriptors[0].Name)
}

package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/snapshot"
	"github.com/stormstack/lightning/pkg/types"
)

// capturePublisher records published snapshots, errors, and drops for
// assertions.
type capturePublisher struct {
	mu        sync.Mutex
	snapshots []*snapshot.Built
	deltas    []*types.DeltaSnapshot
	errors    []types.ErrorRecord
	dropped   []types.MatchID
}

func (p *capturePublisher) PublishSnapshot(_ types.MatchID, built *snapshot.Built, delta *types.DeltaSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, built)
	p.deltas = append(p.deltas, delta)
}

func (p *capturePublisher) PublishError(rec types.ErrorRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, rec)
}

func (p *capturePublisher) DropMatch(matchID types.MatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, matchID)
}

func newTestContainer(t *testing.T, pub Publisher, extra ...*module.Descriptor) *Container {
	t.Helper()
	mods := []*module.Descriptor{module.EntityModule(), module.GridMapModule()}
	mods = append(mods, extra...)
	c, err := NewContainer(ContainerConfig{
		ID:        1,
		Modules:   mods,
		Publisher: pub,
	})
	require.NoError(t, err)
	return c
}

func startMatch(t *testing.T, c *Container, id types.MatchID) *Match {
	t.Helper()
	m, err := c.CreateMatch(id, nil, 0)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.NoError(t, m.Start())
	return m
}

// TestEmptyTick verifies a tick with no commands still advances and publishes
func TestEmptyTick(t *testing.T) {
	pub := &capturePublisher{}
	c := newTestContainer(t, pub)
	m := startMatch(t, c, 1)

	require.NoError(t, c.Tick())

	assert.Equal(t, uint64(1), m.CurrentTick())
	require.Len(t, pub.snapshots, 1)
	assert.Equal(t, uint64(1), pub.snapshots[0].Snap.Tick)
	assert.Nil(t, pub.deltas[0], "first publish has no prior to diff against")

	require.NoError(t, c.Tick())
	assert.Equal(t, uint64(2), m.CurrentTick())
	require.Len(t, pub.deltas, 2)
	assert.NotNil(t, pub.deltas[1])
}

// TestSpawnAndMove verifies the command pipeline end to end
func TestSpawnAndMove(t *testing.T) {
	pub := &capturePublisher{}
	c := newTestContainer(t, pub)
	startMatch(t, c, 1)
	player := types.Principal{PlayerID: 10, Name: "alice"}

	require.NoError(t, c.SubmitCommand(player, 1, "spawn", map[string]any{
		"matchId":    float64(1),
		"playerId":   float64(10),
		"entityType": float64(2),
	}))
	require.NoError(t, c.Tick())

	built, err := c.FullSnapshot(1)
	require.NoError(t, err)
	ents := built.Entities["EntityModule"]
	require.Len(t, ents, 1)

	require.NoError(t, c.SubmitCommand(player, 1, "setPosition", map[string]any{
		"entityId": float64(ents[0]),
		"x":        3.0,
		"y":        4.0,
	}))
	require.NoError(t, c.Tick())

	reg := c.Store().Registry()
	x, _ := reg.LookupName(module.ComponentPositionX)
	y, _ := reg.LookupName(module.ComponentPositionY)
	assert.Equal(t, float32(3), c.Store().Get(ents[0], x.ID))
	assert.Equal(t, float32(4), c.Store().Get(ents[0], y.ID))
	assert.Empty(t, pub.errors)
}

// TestSubmitCommandValidation verifies boundary rejection before enqueue
func TestSubmitCommandValidation(t *testing.T) {
	c := newTestContainer(t, nil)
	startMatch(t, c, 1)
	player := types.Principal{PlayerID: 10}

	err := c.SubmitCommand(player, 1, "warp", map[string]any{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindUnknownCommand))

	err = c.SubmitCommand(player, 1, "setPosition", map[string]any{
		"entityId": "one", "x": 1.0, "y": 1.0,
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindTypeError))

	err = c.SubmitCommand(player, 99, "spawn", map[string]any{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
}

// TestTerminalMatchRejectsCommands verifies finished matches accept nothing
func TestTerminalMatchRejectsCommands(t *testing.T) {
	c := newTestContainer(t, nil)
	startMatch(t, c, 1)
	require.NoError(t, c.FinishMatch(1))

	err := c.SubmitCommand(types.Principal{PlayerID: 10}, 1, "spawn", map[string]any{
		"matchId": float64(1), "playerId": float64(10), "entityType": float64(1),
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
}

// TestFinishMatchDestroysEntities verifies terminal cleanup of the store
func TestFinishMatchDestroysEntities(t *testing.T) {
	c := newTestContainer(t, nil)
	startMatch(t, c, 1)
	startMatch(t, c, 2)
	player := types.Principal{PlayerID: 10}

	for _, matchID := range []float64{1, 2} {
		require.NoError(t, c.SubmitCommand(player, types.MatchID(matchID), "spawn", map[string]any{
			"matchId": matchID, "playerId": float64(10), "entityType": float64(1),
		}))
	}
	require.NoError(t, c.Tick())
	assert.Equal(t, 2, c.Store().EntityCount())

	require.NoError(t, c.FinishMatch(1))
	assert.Equal(t, 1, c.Store().EntityCount(), "only match 1 entities destroyed")
}

// TestPausedContainerDoesNotTick verifies lifecycle gating of the pipeline
func TestPausedContainerDoesNotTick(t *testing.T) {
	c := newTestContainer(t, nil)
	m := startMatch(t, c, 1)
	require.NoError(t, c.Pause())

	err := c.Tick()
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
	assert.Equal(t, uint64(0), m.CurrentTick())

	require.NoError(t, c.Resume())
	require.NoError(t, c.Tick())
	assert.Equal(t, uint64(1), m.CurrentTick())
}

// TestSystemFailureMarksMatchError verifies two consecutive failures error the match
func TestSystemFailureMarksMatchError(t *testing.T) {
	failing := &module.Descriptor{
		Name:    "FaultyModule",
		Version: module.MustVersion("1.0.0"),
		Systems: []module.SystemSpec{
			{Name: "explode", Fn: func(ctx *module.Context) error {
				return errdefs.New(errdefs.KindInternal, "boom")
			}},
		},
	}
	pub := &capturePublisher{}
	c := newTestContainer(t, pub, failing)
	m, err := c.CreateMatch(1, []string{"EntityModule", "FaultyModule"}, 0)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.NoError(t, m.Start())

	require.NoError(t, c.Tick())
	assert.Equal(t, types.MatchStatusRunning, m.Status(), "first failure is tolerated")

	require.NoError(t, c.Tick())
	assert.Equal(t, types.MatchStatusError, m.Status())

	recs := c.RecentErrors(1)
	require.Len(t, recs, 2)
	assert.Equal(t, types.ErrorSourceSystem, recs[0].Source)
	assert.Equal(t, "explode", recs[0].Name)
	assert.Len(t, pub.errors, 2)
	assert.Equal(t, []types.MatchID{1}, pub.dropped, "stream subscribers released on the error transition")
}

// TestTerminalMatchDropsStreams verifies finishing a match releases its
// stream subscribers
func TestTerminalMatchDropsStreams(t *testing.T) {
	pub := &capturePublisher{}
	c := newTestContainer(t, pub)
	startMatch(t, c, 1)
	startMatch(t, c, 2)

	require.NoError(t, c.FinishMatch(1))
	assert.Equal(t, []types.MatchID{1}, pub.dropped)

	require.NoError(t, c.Stop())
	assert.Contains(t, pub.dropped, types.MatchID(2), "container stop drops remaining matches")
}

// TestSystemPanicIsolated verifies a panicking system never unwinds the tick
func TestSystemPanicIsolated(t *testing.T) {
	panicking := &module.Descriptor{
		Name:    "PanickyModule",
		Version: module.MustVersion("1.0.0"),
		Systems: []module.SystemSpec{
			{Name: "crash", Fn: func(ctx *module.Context) error { panic("unexpected") }},
		},
	}
	c := newTestContainer(t, nil, panicking)
	m, err := c.CreateMatch(1, []string{"PanickyModule"}, 0)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.NoError(t, m.Start())

	require.NoError(t, c.Tick())
	recs := c.RecentErrors(1)
	require.Len(t, recs, 1)
	assert.Equal(t, string(errdefs.KindInternal), recs[0].Code)
}

// TestCommandFailureDoesNotAbortTick verifies error capture keeps the tick alive
func TestCommandFailureDoesNotAbortTick(t *testing.T) {
	flaky := &module.Descriptor{
		Name:    "FlakyModule",
		Version: module.MustVersion("1.0.0"),
		Commands: []module.CommandSpec{
			{Name: "misfire", Params: nil, Handler: func(ctx *module.Context, args map[string]float32) error {
				return errdefs.New(errdefs.KindInternal, "misfired")
			}},
		},
	}
	pub := &capturePublisher{}
	c := newTestContainer(t, pub, flaky)
	m, err := c.CreateMatch(1, nil, 0)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.NoError(t, m.Start())
	player := types.Principal{PlayerID: 10}

	require.NoError(t, c.SubmitCommand(player, 1, "misfire", map[string]any{}))
	require.NoError(t, c.SubmitCommand(player, 1, "spawn", map[string]any{
		"matchId": float64(1), "playerId": float64(10), "entityType": float64(1),
	}))
	require.NoError(t, c.Tick())

	assert.Equal(t, uint64(1), m.CurrentTick())
	assert.Equal(t, 1, c.Store().EntityCount(), "later commands in the drain still execute")

	recs := c.RecentErrors(1)
	require.Len(t, recs, 1)
	assert.Equal(t, types.ErrorSourceCommand, recs[0].Source)
	assert.Equal(t, "misfire", recs[0].Name)
}

// TestEnableModules verifies live module addition
func TestEnableModules(t *testing.T) {
	c, err := NewContainer(ContainerConfig{ID: 1, Modules: []*module.Descriptor{module.EntityModule()}})
	require.NoError(t, err)

	err = c.EnableModules([]string{"PhysicsModule"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))

	require.NoError(t, c.EnableModules([]string{"GridMapModule"}))
	assert.True(t, c.Runtime().Enabled("GridMapModule"))

	// Re-enabling is a no-op.
	require.NoError(t, c.EnableModules([]string{"GridMapModule", "EntityModule"}))
}

// TestContainerStop verifies STOPPED is terminal and releases matches
func TestContainerStop(t *testing.T) {
	c := newTestContainer(t, nil)
	startMatch(t, c, 1)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop(), "stop is idempotent")
	assert.Equal(t, types.ContainerStatusStopped, c.Status())

	err := c.Start()
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
	_, err = c.CreateMatch(2, nil, 0)
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
}

// TestPlayerScopedStoreView verifies scoped snapshots through the container
func TestPlayerScopedStoreView(t *testing.T) {
	c := newTestContainer(t, nil)
	startMatch(t, c, 1)

	for _, pid := range []float64{10, 11} {
		require.NoError(t, c.SubmitCommand(types.Principal{PlayerID: types.PlayerID(pid)}, 1, "spawn", map[string]any{
			"matchId": float64(1), "playerId": pid, "entityType": float64(1),
		}))
	}
	require.NoError(t, c.Tick())

	built, err := c.PlayerSnapshot(1, 10)
	require.NoError(t, err)
	ents := built.Entities["EntityModule"]
	require.Len(t, ents, 2, "read columns keep foreign entities visible")

	reg := c.Store().Registry()
	owner, ok := reg.LookupName(ecs.ComponentOwnerID)
	require.True(t, ok)
	// The scoped view still reports ownership, a READ column.
	assert.Equal(t, float32(10), c.Store().Get(ents[0], owner.ID))
}

// TestMetricsView verifies the per-container observability assembly
func TestMetricsView(t *testing.T) {
	c := newTestContainer(t, nil)
	startMatch(t, c, 1)
	require.NoError(t, c.SubmitCommand(types.Principal{PlayerID: 10}, 1, "spawn", map[string]any{
		"matchId": float64(1), "playerId": float64(10), "entityType": float64(1),
	}))
	require.NoError(t, c.Tick())

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.TotalTicks)
	assert.Equal(t, 1, m.TotalEntities)
	assert.GreaterOrEqual(t, m.AvgTickMs, 0.0)
	require.Len(t, m.LastTickCommands, 1)
	assert.Equal(t, "spawn", m.LastTickCommands[0].Name)
	assert.True(t, m.LastTickCommands[0].Success)
}

package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/auth"
	"github.com/stormstack/lightning/pkg/cluster"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// fakeNodeControl records placements and can fail selected nodes.
type fakeNodeControl struct {
	mu         sync.Mutex
	placements []uint64 // node ids in attempt order
	failNodes  map[uint64]bool
	admitted   []types.PlayerID
	admitErr   error
}

func (f *fakeNodeControl) PlaceMatch(_ context.Context, node types.Node, _ types.MatchID, _ []string, _, _ int, _ bool) (types.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placements = append(f.placements, node.ID)
	if f.failNodes[node.ID] {
		return 0, errdefs.New(errdefs.KindResourceUnavailable, "node refused placement")
	}
	return types.ContainerID(100 + node.ID), nil
}

func (f *fakeNodeControl) AdmitPlayer(_ context.Context, _ types.Node, _ types.ContainerID, _ types.MatchID, playerID types.PlayerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.admitErr != nil {
		return f.admitErr
	}
	f.admitted = append(f.admitted, playerID)
	return nil
}

type fixture struct {
	registry *cluster.Registry
	gate     *auth.Gate
	control  *fakeNodeControl
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := cluster.NewRegistry(cluster.Config{})
	require.NoError(t, err)
	gate, err := auth.NewGate([]byte("test-secret"), nil)
	require.NoError(t, err)
	control := &fakeNodeControl{failNodes: make(map[uint64]bool)}
	return &fixture{
		registry: registry,
		gate:     gate,
		control:  control,
		router:   NewRouter(registry, gate, control),
	}
}

func (f *fixture) addNode(t *testing.T, modules []string, saturation float64) uint64 {
	t.Helper()
	id, err := f.registry.RegisterNode(types.Node{
		Address:    "node:8080",
		MaxMatches: 10,
		Modules:    modules,
	})
	require.NoError(t, err)
	// Saturation derives from occupancy: matchCount = saturation*maxMatches/0.5.
	require.NoError(t, f.registry.Heartbeat(id, types.NodeMetrics{
		MatchCount: int(saturation * 10 / 0.5),
	}, nil))
	return id
}

var allModules = []string{"EntityModule", "GridMapModule"}

// TestRouteLeastSaturated verifies the match lands on the lowest score
func TestRouteLeastSaturated(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, allModules, 0.6)
	low := f.addNode(t, allModules, 0.1)
	f.addNode(t, allModules, 0.4)

	res, err := f.router.Route(context.Background(), types.RouteRequest{Modules: allModules})
	require.NoError(t, err)
	assert.Equal(t, low, res.NodeID)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, types.MatchStatusCreated, res.Status)

	m, err := f.registry.Match(res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, low, m.NodeID)
	assert.Equal(t, res.ContainerID, m.ContainerID)
}

// TestRouteFailover verifies retry on the next candidate after a failure
func TestRouteFailover(t *testing.T) {
	f := newFixture(t)
	bad := f.addNode(t, allModules, 0.1)
	good := f.addNode(t, allModules, 0.4)
	f.control.failNodes[bad] = true

	res, err := f.router.Route(context.Background(), types.RouteRequest{Modules: allModules, AutoStart: true})
	require.NoError(t, err)
	assert.Equal(t, good, res.NodeID)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, types.MatchStatusRunning, res.Status)
	assert.Equal(t, []uint64{bad, good}, f.control.placements)
}

// TestRouteAllAttemptsFail verifies PLACEMENT_FAILED after the attempt cap
func TestRouteAllAttemptsFail(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		id := f.addNode(t, allModules, float64(i)*0.1)
		f.control.failNodes[id] = true
	}

	_, err := f.router.Route(context.Background(), types.RouteRequest{Modules: allModules})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindPlacementFailed))
	assert.Equal(t, DefaultMaxPlacementAttempts, errdefs.Details(err)["attempts"])
	assert.Len(t, f.control.placements, DefaultMaxPlacementAttempts, "fourth candidate never tried")
}

// TestRouteUnroutableModules verifies module support filtering
func TestRouteUnroutableModules(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, []string{"EntityModule"}, 0.1)

	_, err := f.router.Route(context.Background(), types.RouteRequest{Modules: allModules})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindUnroutableModules))

	_, err = f.router.Route(context.Background(), types.RouteRequest{})
	assert.True(t, errdefs.IsKind(err, errdefs.KindBadRequest))
}

// TestRouteSkipsUnhealthyNodes verifies draining and offline exclusion
func TestRouteSkipsUnhealthyNodes(t *testing.T) {
	f := newFixture(t)
	draining := f.addNode(t, allModules, 0.0)
	require.NoError(t, f.registry.DrainNode(draining))
	healthy := f.addNode(t, allModules, 0.8)

	res, err := f.router.Route(context.Background(), types.RouteRequest{Modules: allModules})
	require.NoError(t, err)
	assert.Equal(t, healthy, res.NodeID)
}

// TestRoutePreferredNode verifies the hint wins within tolerance only
func TestRoutePreferredNode(t *testing.T) {
	f := newFixture(t)
	best := f.addNode(t, allModules, 0.1)
	near := f.addNode(t, allModules, 0.15)
	far := f.addNode(t, allModules, 0.5)

	res, err := f.router.Route(context.Background(), types.RouteRequest{
		Modules:         allModules,
		PreferredNodeID: &near,
	})
	require.NoError(t, err)
	assert.Equal(t, near, res.NodeID, "within 0.1 of the leader, hint honored")

	res, err = f.router.Route(context.Background(), types.RouteRequest{
		Modules:         allModules,
		PreferredNodeID: &far,
	})
	require.NoError(t, err)
	assert.Equal(t, best, res.NodeID, "hint beyond tolerance ignored")
}

// TestJoin verifies admission, token minting, and streaming URLs
func TestJoin(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, allModules, 0.1)

	res, err := f.router.Route(context.Background(), types.RouteRequest{
		Modules: allModules, PlayerLimit: 2, AutoStart: true,
	})
	require.NoError(t, err)

	join, err := f.router.Join(context.Background(), res.MatchID, types.JoinRequest{
		PlayerID: 10, PlayerName: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, []types.PlayerID{10}, f.control.admitted)
	assert.True(t, strings.HasPrefix(join.CommandURL, "ws://node:8080/ws/containers/"))
	assert.Contains(t, join.SnapshotURL, "/snapshot")

	tok, err := f.gate.Validate(context.Background(), join.MatchToken)
	require.NoError(t, err)
	assert.Equal(t, res.MatchID, tok.MatchID)
	assert.Equal(t, types.DefaultScopes(), tok.Scopes)

	m, err := f.registry.Match(res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, []types.PlayerID{10}, m.Players)
}

// TestJoinMatchFull verifies the limit and the rejoin exemption
func TestJoinMatchFull(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, allModules, 0.1)

	res, err := f.router.Route(context.Background(), types.RouteRequest{
		Modules: allModules, PlayerLimit: 1, AutoStart: true,
	})
	require.NoError(t, err)

	_, err = f.router.Join(context.Background(), res.MatchID, types.JoinRequest{PlayerID: 10, PlayerName: "a"})
	require.NoError(t, err)

	_, err = f.router.Join(context.Background(), res.MatchID, types.JoinRequest{PlayerID: 11, PlayerName: "b"})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMatchFull))
	assert.Equal(t, 1, errdefs.Details(err)["playerLimit"])

	// The admitted player may rejoin for a fresh token.
	again, err := f.router.Join(context.Background(), res.MatchID, types.JoinRequest{PlayerID: 10, PlayerName: "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, again.MatchToken)
}

// TestJoinGuards verifies state and input validation
func TestJoinGuards(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, allModules, 0.1)

	res, err := f.router.Route(context.Background(), types.RouteRequest{Modules: allModules})
	require.NoError(t, err)

	// Not running yet.
	_, err = f.router.Join(context.Background(), res.MatchID, types.JoinRequest{PlayerID: 10, PlayerName: "a"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))

	_, err = f.router.Join(context.Background(), 999, types.JoinRequest{PlayerID: 10, PlayerName: "a"})
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))

	_, err = f.router.Join(context.Background(), res.MatchID, types.JoinRequest{PlayerID: 10})
	assert.True(t, errdefs.IsKind(err, errdefs.KindBadRequest))

	_, err = f.router.Join(context.Background(), res.MatchID, types.JoinRequest{
		PlayerID: 10, PlayerName: "a", ValidFor: "soon",
	})
	assert.True(t, errdefs.IsKind(err, errdefs.KindBadRequest))
}

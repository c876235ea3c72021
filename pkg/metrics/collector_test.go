package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/stormstack/lightning/pkg/types"
)

type fakeClusterState struct {
	nodes   []types.Node
	matches []types.Match
}

func (f *fakeClusterState) Nodes() []types.Node    { return f.nodes }
func (f *fakeClusterState) Matches() []types.Match { return f.matches }

// TestCollect tests gauge refresh from cluster state
func TestCollect(t *testing.T) {
	state := &fakeClusterState{
		nodes: []types.Node{
			{ID: 1, Status: types.NodeStatusHealthy},
			{ID: 2, Status: types.NodeStatusHealthy},
			{ID: 3, Status: types.NodeStatusDraining},
		},
		matches: []types.Match{
			{ID: 1, Status: types.MatchStatusRunning},
			{ID: 2, Status: types.MatchStatusFinished},
		},
	}

	c := NewCollector(state)
	c.collect()

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusHealthy))); got != 2 {
		t.Errorf("expected 2 healthy nodes, got %v", got)
	}
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusDraining))); got != 1 {
		t.Errorf("expected 1 draining node, got %v", got)
	}
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusOffline))); got != 0 {
		t.Errorf("expected 0 offline nodes, got %v", got)
	}
	if got := testutil.ToFloat64(MatchesTotal.WithLabelValues(string(types.MatchStatusRunning))); got != 1 {
		t.Errorf("expected 1 running match, got %v", got)
	}

	// A second collect replaces the gauges rather than accumulating.
	state.nodes = state.nodes[:1]
	c.collect()
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues(string(types.NodeStatusHealthy))); got != 1 {
		t.Errorf("expected 1 healthy node after refresh, got %v", got)
	}
}

package metrics

import (
	"time"

	"github.com/stormstack/lightning/pkg/types"
)

// ClusterState is the slice of control plane state the collector polls.
type ClusterState interface {
	Nodes() []types.Node
	Matches() []types.Match
}

// Collector periodically refreshes the cluster gauges from control plane
// state.
type Collector struct {
	state  ClusterState
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(state ClusterState) *Collector {
	return &Collector{
		state:  state,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	nodeCounts := make(map[types.NodeStatus]int)
	for _, n := range c.state.Nodes() {
		nodeCounts[n.Status]++
	}
	for _, status := range []types.NodeStatus{types.NodeStatusHealthy, types.NodeStatusDraining, types.NodeStatusOffline} {
		NodesTotal.WithLabelValues(string(status)).Set(float64(nodeCounts[status]))
	}

	matchCounts := make(map[types.MatchStatus]int)
	for _, m := range c.state.Matches() {
		matchCounts[m.Status]++
	}
	for _, status := range []types.MatchStatus{types.MatchStatusCreated, types.MatchStatusRunning, types.MatchStatusFinished, types.MatchStatusError} {
		MatchesTotal.WithLabelValues(string(status)).Set(float64(matchCounts[status]))
	}
}

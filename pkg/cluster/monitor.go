package cluster

import (
	"time"

	"github.com/stormstack/lightning/pkg/types"
)

// Monitor sweeps the registry for nodes whose heartbeats have stopped.
type Monitor struct {
	registry *Registry
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitor creates a liveness monitor for the registry.
func NewMonitor(registry *Registry) *Monitor {
	return &Monitor{
		registry: registry,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins sweeping at the heartbeat interval.
func (m *Monitor) Start() {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.registry.HeartbeatInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the monitor and waits for the sweep loop to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Sweep marks nodes OFFLINE after three missed heartbeats and evicts
// nodes offline past the reattach window.
func (m *Monitor) Sweep() {
	deadline := time.Duration(missedHeartbeats) * m.registry.HeartbeatInterval()
	now := time.Now()
	for _, n := range m.registry.Nodes() {
		if n.Status == types.NodeStatusOffline {
			continue
		}
		if now.Sub(n.LastHeartbeat) > deadline {
			m.registry.markOffline(n.ID)
		}
	}
	m.registry.evictExpired()
}

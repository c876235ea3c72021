package client

import (
	"context"
	"fmt"

	"github.com/stormstack/lightning/pkg/engine"
	"github.com/stormstack/lightning/pkg/types"
)

// EngineClient talks to one engine node's API.
type EngineClient struct {
	rest
}

// NewEngineClient creates a client for the node at base.
func NewEngineClient(base, bearer string) *EngineClient {
	return &EngineClient{rest: newREST(base, bearer)}
}

// containerView mirrors the node's container wire form.
type containerView struct {
	ContainerID    uint64                `json:"containerId"`
	NodeID         uint64                `json:"nodeId"`
	Status         types.ContainerStatus `json:"status"`
	TickIntervalMs int64                 `json:"tickIntervalMs"`
	AutoPlaying    bool                  `json:"autoPlaying"`
	Modules        []string              `json:"modules"`
	MatchCount     int                   `json:"matchCount"`
}

// CreateContainer allocates and starts a container on the node.
func (c *EngineClient) CreateContainer(ctx context.Context, modules []string, tickIntervalMs int64) (types.ContainerID, error) {
	body := struct {
		Modules        []string `json:"modules"`
		TickIntervalMs int64    `json:"tickIntervalMs"`
	}{Modules: modules, TickIntervalMs: tickIntervalMs}
	var view containerView
	if err := c.do(ctx, "POST", "/api/containers", body, &view); err != nil {
		return 0, err
	}
	return types.ContainerID(view.ContainerID), nil
}

// Containers lists the node's containers.
func (c *EngineClient) Containers(ctx context.Context) ([]types.ContainerID, error) {
	var views []containerView
	if err := c.do(ctx, "GET", "/api/containers", nil, &views); err != nil {
		return nil, err
	}
	ids := make([]types.ContainerID, 0, len(views))
	for _, v := range views {
		ids = append(ids, types.ContainerID(v.ContainerID))
	}
	return ids, nil
}

// CreateMatch registers a match on a container.
func (c *EngineClient) CreateMatch(ctx context.Context, containerID types.ContainerID, matchID types.MatchID, modules []string, playerLimit int, autoStart bool) (*types.Match, error) {
	body := struct {
		MatchID     uint64   `json:"matchId"`
		Modules     []string `json:"modules"`
		PlayerLimit int      `json:"playerLimit"`
		AutoStart   bool     `json:"autoStart"`
	}{MatchID: uint64(matchID), Modules: modules, PlayerLimit: playerLimit, AutoStart: autoStart}
	var m types.Match
	if err := c.do(ctx, "POST", fmt.Sprintf("/api/containers/%d/matches", containerID), body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Tick advances a container by count manual ticks.
func (c *EngineClient) Tick(ctx context.Context, containerID types.ContainerID, count int) error {
	body := struct {
		Count int `json:"count"`
	}{Count: count}
	return c.do(ctx, "POST", fmt.Sprintf("/api/containers/%d/ticks", containerID), body, nil)
}

// Play starts automatic ticking at the given interval.
func (c *EngineClient) Play(ctx context.Context, containerID types.ContainerID, intervalMs int64) error {
	body := struct {
		IntervalMs int64 `json:"intervalMs"`
	}{IntervalMs: intervalMs}
	return c.do(ctx, "POST", fmt.Sprintf("/api/containers/%d/play", containerID), body, nil)
}

// StopAuto halts automatic ticking.
func (c *EngineClient) StopAuto(ctx context.Context, containerID types.ContainerID) error {
	return c.do(ctx, "POST", fmt.Sprintf("/api/containers/%d/stop-auto", containerID), nil, nil)
}

// SubmitCommand queues a command for the next tick.
func (c *EngineClient) SubmitCommand(ctx context.Context, containerID types.ContainerID, matchID types.MatchID, name string, payload map[string]any) error {
	body := struct {
		MatchID uint64         `json:"matchId"`
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}{MatchID: uint64(matchID), Name: name, Payload: payload}
	return c.do(ctx, "POST", fmt.Sprintf("/api/containers/%d/commands", containerID), body, nil)
}

// Snapshot pulls the current snapshot of a match.
func (c *EngineClient) Snapshot(ctx context.Context, containerID types.ContainerID, matchID types.MatchID) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/containers/%d/snapshots/%d", containerID, matchID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ContainerMetrics fetches a container's tick metrics.
func (c *EngineClient) ContainerMetrics(ctx context.Context, containerID types.ContainerID) (*engine.ContainerMetrics, error) {
	var m engine.ContainerMetrics
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/containers/%d/metrics", containerID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// NodeControl adapts per-node engine clients to the router's placement
// interface. It creates a dedicated container per placed match.
type NodeControl struct {
	apiKey string
}

// NewNodeControl creates the router-facing node control adapter.
func NewNodeControl(apiKey string) *NodeControl {
	return &NodeControl{apiKey: apiKey}
}

// PlaceMatch creates a container on the node and registers the match in
// it, returning the container id.
func (nc *NodeControl) PlaceMatch(ctx context.Context, node types.Node, matchID types.MatchID, modules []string, playerLimit, tickIntervalMs int, autoStart bool) (types.ContainerID, error) {
	ec := NewEngineClient(node.Address, nc.apiKey)
	containerID, err := ec.CreateContainer(ctx, modules, int64(tickIntervalMs))
	if err != nil {
		return 0, err
	}
	if _, err := ec.CreateMatch(ctx, containerID, matchID, modules, playerLimit, autoStart); err != nil {
		return 0, err
	}
	if autoStart {
		if err := ec.Play(ctx, containerID, 0); err != nil {
			return 0, err
		}
	}
	return containerID, nil
}

// AdmitPlayer registers a player on the node-local match record.
func (nc *NodeControl) AdmitPlayer(ctx context.Context, node types.Node, containerID types.ContainerID, matchID types.MatchID, playerID types.PlayerID, playerName string) error {
	ec := NewEngineClient(node.Address, nc.apiKey)
	body := struct {
		PlayerID   uint64 `json:"playerId"`
		PlayerName string `json:"playerName"`
	}{PlayerID: uint64(playerID), PlayerName: playerName}
	return ec.do(ctx, "POST", fmt.Sprintf("/api/containers/%d/matches/%d/players", containerID, matchID), body, nil)
}

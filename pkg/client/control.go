package client

import (
	"context"
	"fmt"

	"github.com/stormstack/lightning/pkg/types"
)

// ControlClient talks to the control plane API. It implements
// engine.ControlPlane and auth.Introspector.
type ControlClient struct {
	rest
}

// NewControlClient creates a client for the control plane at base,
// authenticating with the cluster api key.
func NewControlClient(base, apiKey string) *ControlClient {
	return &ControlClient{rest: newREST(base, apiKey)}
}

// RegisterNode announces an engine node, returning the assigned id and
// the heartbeat cadence the control plane expects.
func (c *ControlClient) RegisterNode(ctx context.Context, node types.Node) (types.NodeRegistration, error) {
	var resp types.NodeRegistration
	if err := c.do(ctx, "POST", "/api/nodes/register", node, &resp); err != nil {
		return types.NodeRegistration{}, err
	}
	return resp, nil
}

// Heartbeat reports node metrics and match state.
func (c *ControlClient) Heartbeat(ctx context.Context, nodeID uint64, m types.NodeMetrics, matches []types.Match) error {
	body := struct {
		Metrics types.NodeMetrics `json:"metrics"`
		Matches []types.Match     `json:"matches"`
	}{Metrics: m, Matches: matches}
	return c.do(ctx, "POST", fmt.Sprintf("/api/nodes/%d/heartbeat", nodeID), body, nil)
}

// IntrospectToken resolves a bearer token minted by the control plane.
func (c *ControlClient) IntrospectToken(ctx context.Context, bearer string) (*types.MatchToken, error) {
	body := struct {
		Token string `json:"token"`
	}{Token: bearer}
	var t types.MatchToken
	if err := c.do(ctx, "POST", "/api/tokens/introspect", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ClusterStatus fetches the cluster overview.
func (c *ControlClient) ClusterStatus(ctx context.Context) (*types.ClusterStatus, error) {
	var st types.ClusterStatus
	if err := c.do(ctx, "GET", "/api/cluster/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Nodes lists registered nodes.
func (c *ControlClient) Nodes(ctx context.Context) ([]types.Node, error) {
	var nodes []types.Node
	if err := c.do(ctx, "GET", "/api/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// DrainNode stops new placements on a node.
func (c *ControlClient) DrainNode(ctx context.Context, id uint64) error {
	return c.do(ctx, "POST", fmt.Sprintf("/api/nodes/%d/drain", id), nil, nil)
}

// Matches lists all known matches.
func (c *ControlClient) Matches(ctx context.Context) ([]types.Match, error) {
	var matches []types.Match
	if err := c.do(ctx, "GET", "/api/matches", nil, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// Match fetches one match record.
func (c *ControlClient) Match(ctx context.Context, id types.MatchID) (*types.Match, error) {
	var m types.Match
	if err := c.do(ctx, "GET", fmt.Sprintf("/api/matches/%d", id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Route asks the router to place a new match.
func (c *ControlClient) Route(ctx context.Context, req types.RouteRequest) (*types.RouteResult, error) {
	var result types.RouteResult
	if err := c.do(ctx, "POST", "/api/matches/route", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Join admits a player to a match.
func (c *ControlClient) Join(ctx context.Context, matchID types.MatchID, req types.JoinRequest) (*types.JoinResult, error) {
	var result types.JoinResult
	if err := c.do(ctx, "POST", fmt.Sprintf("/api/matches/%d/join", matchID), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

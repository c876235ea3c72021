package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/auth"
	"github.com/stormstack/lightning/pkg/cluster"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/types"
)

// Placement tuning.
const (
	DefaultMaxPlacementAttempts = 3

	// preferredTolerance is how far a preferred node's saturation may
	// trail the best candidate and still win.
	preferredTolerance = 0.1
)

// NodeControl drives match operations on a remote engine node. Implemented
// by client.EngineClient.
type NodeControl interface {
	PlaceMatch(ctx context.Context, node types.Node, matchID types.MatchID, modules []string, playerLimit, tickIntervalMs int, autoStart bool) (types.ContainerID, error)
	AdmitPlayer(ctx context.Context, node types.Node, containerID types.ContainerID, matchID types.MatchID, playerID types.PlayerID, playerName string) error
}

// Router places new matches on engine nodes and admits players to
// existing matches.
type Router struct {
	logger      zerolog.Logger
	registry    *cluster.Registry
	gate        *auth.Gate
	control     NodeControl
	maxAttempts int
}

// NewRouter creates a router over the cluster registry.
func NewRouter(registry *cluster.Registry, gate *auth.Gate, control NodeControl) *Router {
	return &Router{
		logger:      log.WithComponent("router"),
		registry:    registry,
		gate:        gate,
		control:     control,
		maxAttempts: DefaultMaxPlacementAttempts,
	}
}

// candidate pairs a node with its placement score.
type candidate struct {
	node  types.Node
	score float64
}

// Route places a new match per the placement algorithm: healthy nodes
// supporting every requested module, ordered by saturation then
// registration time then id, honoring a preferred-node hint within
// tolerance, retrying on placement failure.
func (r *Router) Route(ctx context.Context, req types.RouteRequest) (*types.RouteResult, error) {
	if len(req.Modules) == 0 {
		return nil, errdefs.BadRequest("at least one module is required")
	}

	candidates := r.candidates(req.Modules)
	if len(candidates) == 0 {
		return nil, errdefs.New(errdefs.KindUnroutableModules,
			"no healthy node supports modules %v", req.Modules).
			WithDetails(map[string]any{"modules": req.Modules})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if !a.node.RegisteredAt.Equal(b.node.RegisteredAt) {
			return a.node.RegisteredAt.Before(b.node.RegisteredAt)
		}
		return a.node.ID < b.node.ID
	})

	if req.PreferredNodeID != nil {
		candidates = promotePreferred(candidates, *req.PreferredNodeID)
	}

	matchID := r.registry.AllocateMatchID()
	attempts := 0
	for _, cand := range candidates {
		if attempts >= r.maxAttempts {
			break
		}
		attempts++
		metrics.PlacementAttempts.Inc()

		containerID, err := r.control.PlaceMatch(ctx, cand.node, matchID, req.Modules, req.PlayerLimit, 0, req.AutoStart)
		if err != nil {
			r.logger.Warn().Err(err).
				Uint64("node_id", cand.node.ID).
				Uint64("match_id", uint64(matchID)).
				Int("attempt", attempts).
				Msg("placement attempt failed, trying next candidate")
			continue
		}

		status := types.MatchStatusCreated
		if req.AutoStart {
			status = types.MatchStatusRunning
		}
		m := types.Match{
			ID:          matchID,
			NodeID:      cand.node.ID,
			ContainerID: containerID,
			Modules:     req.Modules,
			Status:      status,
			PlayerLimit: req.PlayerLimit,
			CreatedAt:   time.Now(),
		}
		r.registry.PutMatch(m)
		r.logger.Info().
			Uint64("match_id", uint64(matchID)).
			Uint64("node_id", cand.node.ID).
			Uint64("container_id", uint64(containerID)).
			Int("attempts", attempts).
			Msg("match placed")
		return &types.RouteResult{
			MatchID:     matchID,
			NodeID:      cand.node.ID,
			Address:     cand.node.Address,
			ContainerID: containerID,
			Status:      status,
			Attempts:    attempts,
			CreatedAt:   m.CreatedAt,
		}, nil
	}

	metrics.PlacementsFailed.Inc()
	return nil, errdefs.New(errdefs.KindPlacementFailed,
		"placement failed after %d attempts", attempts).
		WithDetails(map[string]any{"attempts": attempts})
}

// candidates returns healthy nodes supporting every requested module,
// scored by saturation.
func (r *Router) candidates(modules []string) []candidate {
	var out []candidate
	for _, n := range r.registry.Nodes() {
		if n.Status != types.NodeStatusHealthy {
			continue
		}
		if !supportsAll(n.Modules, modules) {
			continue
		}
		out = append(out, candidate{node: n, score: cluster.Saturation(n)})
	}
	return out
}

func supportsAll(supported, wanted []string) bool {
	set := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		set[s] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// promotePreferred moves the hinted node to the front when its score is
// within tolerance of the leader.
func promotePreferred(candidates []candidate, preferred uint64) []candidate {
	best := candidates[0].score
	for i, c := range candidates {
		if c.node.ID != preferred {
			continue
		}
		if c.score <= best+preferredTolerance {
			reordered := make([]candidate, 0, len(candidates))
			reordered = append(reordered, c)
			reordered = append(reordered, candidates[:i]...)
			reordered = append(reordered, candidates[i+1:]...)
			return reordered
		}
		break
	}
	return candidates
}

// Join admits a player to a running match, minting a match-scoped token
// and the node-local streaming URLs.
func (r *Router) Join(ctx context.Context, matchID types.MatchID, req types.JoinRequest) (*types.JoinResult, error) {
	if req.PlayerName == "" {
		return nil, errdefs.BadRequest("playerName is required")
	}

	m, err := r.registry.Match(matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != types.MatchStatusRunning {
		return nil, errdefs.New(errdefs.KindPreconditionFailed,
			"match %d is %s, join requires a running match", matchID, m.Status)
	}
	if m.PlayerLimit > 0 && len(m.Players) >= m.PlayerLimit && !containsPlayer(m.Players, req.PlayerID) {
		return nil, errdefs.MatchFull(m.PlayerLimit, len(m.Players))
	}

	node, err := r.registry.Node(m.NodeID)
	if err != nil {
		return nil, err
	}

	if err := r.control.AdmitPlayer(ctx, node, m.ContainerID, matchID, req.PlayerID, req.PlayerName); err != nil {
		return nil, err
	}

	if !containsPlayer(m.Players, req.PlayerID) {
		m.Players = append(m.Players, req.PlayerID)
		r.registry.PutMatch(m)
	}

	validFor, err := parseValidFor(req.ValidFor)
	if err != nil {
		return nil, err
	}
	token, bearer, err := r.gate.Issue(matchID, m.ContainerID, req.PlayerID, req.PlayerName, types.DefaultScopes(), validFor)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Uint64("match_id", uint64(matchID)).
		Uint64("player_id", uint64(req.PlayerID)).
		Str("player_name", req.PlayerName).
		Msg("player admitted")
	return &types.JoinResult{
		MatchID:    matchID,
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
		MatchToken: bearer,
		CommandURL: fmt.Sprintf("ws://%s/ws/containers/%d/commands",
			node.Address, m.ContainerID),
		SnapshotURL: fmt.Sprintf("ws://%s/ws/containers/%d/matches/%d/snapshot",
			node.Address, m.ContainerID, matchID),
		TokenExpiresAt: token.ExpiresAt,
	}, nil
}

func containsPlayer(players []types.PlayerID, id types.PlayerID) bool {
	for _, p := range players {
		if p == id {
			return true
		}
	}
	return false
}

func parseValidFor(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errdefs.BadRequest("invalid validFor duration %q", s)
	}
	return d, nil
}

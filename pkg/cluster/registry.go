package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/types"
)

// Defaults for node liveness tracking.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultReattachWindow    = 5 * time.Minute

	// missedHeartbeats before a node is marked OFFLINE.
	missedHeartbeats = 3
)

// Persistence is the durable backing for match records. Implemented by
// storage.BoltStore; nil keeps the registry memory-only.
type Persistence interface {
	SaveMatch(m types.Match) error
	DeleteMatch(id types.MatchID) error
	LoadMatches() ([]types.Match, error)
}

// nodeRecord wraps a node with its own lock so heartbeats from different
// nodes never contend.
type nodeRecord struct {
	mu        sync.Mutex
	node      types.Node
	offlineAt time.Time
}

// Registry is the control plane's authoritative view of engine nodes and
// the matches placed on them.
type Registry struct {
	logger            zerolog.Logger
	heartbeatInterval time.Duration
	reattachWindow    time.Duration
	persistence       Persistence

	mu          sync.RWMutex
	nodes       map[uint64]*nodeRecord
	matches     map[types.MatchID]types.Match
	nextNodeID  uint64
	nextMatchID types.MatchID
}

// Config holds registry configuration.
type Config struct {
	HeartbeatInterval time.Duration
	ReattachWindow    time.Duration
	Persistence       Persistence
}

// NewRegistry creates a registry, restoring persisted matches when a
// persistence backend is configured.
func NewRegistry(cfg Config) (*Registry, error) {
	hb := cfg.HeartbeatInterval
	if hb <= 0 {
		hb = DefaultHeartbeatInterval
	}
	rw := cfg.ReattachWindow
	if rw <= 0 {
		rw = DefaultReattachWindow
	}
	r := &Registry{
		logger:            log.WithComponent("cluster"),
		heartbeatInterval: hb,
		reattachWindow:    rw,
		persistence:       cfg.Persistence,
		nodes:             make(map[uint64]*nodeRecord),
		matches:           make(map[types.MatchID]types.Match),
		nextNodeID:        1,
		nextMatchID:       1,
	}

	if cfg.Persistence != nil {
		restored, err := cfg.Persistence.LoadMatches()
		if err != nil {
			return nil, err
		}
		for _, m := range restored {
			r.matches[m.ID] = m
			if m.ID >= r.nextMatchID {
				r.nextMatchID = m.ID + 1
			}
		}
		if len(restored) > 0 {
			r.logger.Info().Int("matches", len(restored)).Msg("restored persisted matches")
		}
	}
	return r, nil
}

// HeartbeatInterval returns the configured heartbeat cadence.
func (r *Registry) HeartbeatInterval() time.Duration { return r.heartbeatInterval }

// RegisterNode admits a node into the cluster. A node re-registering with
// its previous id inside the reattach window reclaims it, keeping its
// placed matches reachable.
func (r *Registry) RegisterNode(node types.Node) (uint64, error) {
	if node.Address == "" {
		return 0, errdefs.BadRequest("node advertise address is required")
	}
	if node.MaxMatches <= 0 {
		return 0, errdefs.BadRequest("node maxMatches must be positive")
	}

	now := time.Now()

	if node.ID != 0 {
		r.mu.RLock()
		rec, exists := r.nodes[node.ID]
		r.mu.RUnlock()
		if exists {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if rec.node.Status == types.NodeStatusOffline && now.Sub(rec.offlineAt) > r.reattachWindow {
				return 0, errdefs.New(errdefs.KindPreconditionFailed,
					"node %d reattach window expired", node.ID)
			}
			rec.node.Address = node.Address
			rec.node.MaxMatches = node.MaxMatches
			rec.node.Modules = node.Modules
			rec.node.Metrics = node.Metrics
			rec.node.Status = types.NodeStatusHealthy
			rec.node.LastHeartbeat = now
			rec.offlineAt = time.Time{}
			r.logger.Info().Uint64("node_id", node.ID).Str("address", node.Address).Msg("node reattached")
			return node.ID, nil
		}
	}

	r.mu.Lock()
	id := r.nextNodeID
	r.nextNodeID++
	r.nodes[id] = &nodeRecord{node: types.Node{
		ID:            id,
		Address:       node.Address,
		Status:        types.NodeStatusHealthy,
		MaxMatches:    node.MaxMatches,
		Modules:       node.Modules,
		Metrics:       node.Metrics,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}}
	r.mu.Unlock()

	r.logger.Info().
		Uint64("node_id", id).
		Str("address", node.Address).
		Int("max_matches", node.MaxMatches).
		Strs("modules", node.Modules).
		Msg("node registered")
	return id, nil
}

// Heartbeat refreshes a node's liveness and metrics, and syncs the
// authoritative state of its matches.
func (r *Registry) Heartbeat(nodeID uint64, m types.NodeMetrics, matchViews []types.Match) error {
	r.mu.RLock()
	rec, ok := r.nodes[nodeID]
	r.mu.RUnlock()
	if !ok {
		return errdefs.NotFound("node", nodeID)
	}

	rec.mu.Lock()
	if rec.node.Status == types.NodeStatusOffline {
		if time.Since(rec.offlineAt) > r.reattachWindow {
			rec.mu.Unlock()
			return errdefs.New(errdefs.KindPreconditionFailed,
				"node %d reattach window expired, re-register", nodeID)
		}
		r.logger.Info().Uint64("node_id", nodeID).Msg("offline node resumed heartbeating")
		rec.offlineAt = time.Time{}
	}
	if rec.node.Status != types.NodeStatusDraining {
		rec.node.Status = types.NodeStatusHealthy
	}
	rec.node.Metrics = m
	rec.node.LastHeartbeat = time.Now()
	rec.mu.Unlock()

	for _, mv := range matchViews {
		r.syncMatch(nodeID, mv)
	}
	metrics.HeartbeatsTotal.Inc()
	return nil
}

// syncMatch folds a node-reported match view into the registry. The node
// is authoritative for tick, status, and players of matches placed on it.
func (r *Registry) syncMatch(nodeID uint64, mv types.Match) {
	r.mu.Lock()
	existing, ok := r.matches[mv.ID]
	if !ok || existing.NodeID != nodeID {
		r.mu.Unlock()
		return
	}
	existing.Status = mv.Status
	existing.CurrentTick = mv.CurrentTick
	existing.Players = mv.Players
	r.matches[mv.ID] = existing
	r.mu.Unlock()
	r.persistMatch(existing)
}

// Node returns one node's current view.
func (r *Registry) Node(id uint64) (types.Node, error) {
	r.mu.RLock()
	rec, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return types.Node{}, errdefs.NotFound("node", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.node, nil
}

// Nodes returns a consistent snapshot of all nodes sorted by id.
func (r *Registry) Nodes() []types.Node {
	r.mu.RLock()
	recs := make([]*nodeRecord, 0, len(r.nodes))
	for _, rec := range r.nodes {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]types.Node, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.node)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DrainNode stops new placements on a node. Existing matches complete.
func (r *Registry) DrainNode(id uint64) error {
	r.mu.RLock()
	rec, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return errdefs.NotFound("node", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.node.Status == types.NodeStatusOffline {
		return errdefs.New(errdefs.KindPreconditionFailed, "node %d is offline", id)
	}
	rec.node.Status = types.NodeStatusDraining
	r.logger.Info().Uint64("node_id", id).Msg("node draining")
	return nil
}

// markOffline is called by the monitor when heartbeats stop.
func (r *Registry) markOffline(id uint64) {
	r.mu.RLock()
	rec, ok := r.nodes[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	if rec.node.Status != types.NodeStatusOffline {
		rec.node.Status = types.NodeStatusOffline
		rec.offlineAt = time.Now()
		r.logger.Warn().Uint64("node_id", id).Msg("node marked offline, heartbeats stopped")
	}
	rec.mu.Unlock()
}

// evictExpired removes nodes offline past the reattach window and fails
// the matches stranded on them.
func (r *Registry) evictExpired() {
	now := time.Now()
	for _, n := range r.Nodes() {
		if n.Status != types.NodeStatusOffline {
			continue
		}
		r.mu.Lock()
		rec, ok := r.nodes[n.ID]
		if !ok {
			r.mu.Unlock()
			continue
		}
		rec.mu.Lock()
		expired := rec.node.Status == types.NodeStatusOffline && now.Sub(rec.offlineAt) > r.reattachWindow
		rec.mu.Unlock()
		if !expired {
			r.mu.Unlock()
			continue
		}
		delete(r.nodes, n.ID)
		var stranded []types.Match
		for id, m := range r.matches {
			if m.NodeID == n.ID && !m.Status.Terminal() {
				m.Status = types.MatchStatusError
				r.matches[id] = m
				stranded = append(stranded, m)
			}
		}
		r.mu.Unlock()

		for _, m := range stranded {
			r.persistMatch(m)
		}
		r.logger.Warn().
			Uint64("node_id", n.ID).
			Int("stranded_matches", len(stranded)).
			Msg("node evicted after reattach window")
	}
}

// AllocateMatchID reserves a cluster-unique match id.
func (r *Registry) AllocateMatchID() types.MatchID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextMatchID
	r.nextMatchID++
	return id
}

// PutMatch records a placed match.
func (r *Registry) PutMatch(m types.Match) {
	r.mu.Lock()
	r.matches[m.ID] = m
	r.mu.Unlock()
	r.persistMatch(m)
}

// Match returns one match record.
func (r *Registry) Match(id types.MatchID) (types.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return types.Match{}, errdefs.NotFound("match", uint64(id))
	}
	return m, nil
}

// Matches returns all match records sorted by id.
func (r *Registry) Matches() []types.Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status summarizes cluster capacity and health.
func (r *Registry) Status() types.ClusterStatus {
	nodes := r.Nodes()
	st := types.ClusterStatus{TotalNodes: len(nodes)}
	saturation := 0.0
	for _, n := range nodes {
		switch n.Status {
		case types.NodeStatusHealthy:
			st.HealthyNodes++
		case types.NodeStatusDraining:
			st.DrainingNodes++
		}
		if n.Status != types.NodeStatusOffline {
			st.TotalCapacity += n.MaxMatches
			st.UsedCapacity += n.Metrics.MatchCount
			saturation += Saturation(n)
		}
	}
	if active := st.HealthyNodes + st.DrainingNodes; active > 0 {
		st.AverageSaturation = saturation / float64(active)
	}
	return st
}

func (r *Registry) persistMatch(m types.Match) {
	if r.persistence == nil {
		return
	}
	if err := r.persistence.SaveMatch(m); err != nil {
		r.logger.Warn().Err(err).Uint64("match_id", uint64(m.ID)).Msg("failed to persist match")
	}
}

// Saturation computes the placement score for a node, clamped to [0,1].
func Saturation(n types.Node) float64 {
	occupancy := 0.0
	if n.MaxMatches > 0 {
		occupancy = float64(n.Metrics.MatchCount) / float64(n.MaxMatches)
	}
	mem := 0.0
	if n.Metrics.MemoryMax > 0 {
		mem = float64(n.Metrics.MemoryUsed) / float64(n.Metrics.MemoryMax)
	}
	score := 0.5*occupancy + 0.3*n.Metrics.CPUUsage + 0.2*mem
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

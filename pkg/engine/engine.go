package engine

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/types"
)

// DefaultHeartbeatInterval is the heartbeat cadence used until the control
// plane announces its own at registration.
const DefaultHeartbeatInterval = 5 * time.Second

// ControlPlane is the slice of the control plane API the node talks to.
// Implemented by client.ControlClient; nil for standalone nodes.
type ControlPlane interface {
	RegisterNode(ctx context.Context, node types.Node) (types.NodeRegistration, error)
	Heartbeat(ctx context.Context, nodeID uint64, metrics types.NodeMetrics, matches []types.Match) error
}

// SnapshotStore persists published snapshots per match and tick.
// Implemented by storage.BoltStore; nil disables persistence.
type SnapshotStore interface {
	SaveSnapshot(snap *types.Snapshot) error
	GetSnapshot(matchID types.MatchID, tick uint64) (*types.Snapshot, error)
	LatestSnapshot(matchID types.MatchID) (*types.Snapshot, error)
	DeleteSnapshots(matchID types.MatchID) error
}

// Config holds engine node configuration.
type Config struct {
	NodeID           uint64
	AdvertiseAddress string
	MaxMatches       int
	Modules          []string
	TickInterval     time.Duration
	MemoryMax        int64
	Publisher        Publisher
	Control          ControlPlane
	Store            SnapshotStore
}

// Engine is one node's execution surface: a registry of containers plus the
// registration and heartbeat relationship with the control plane.
type Engine struct {
	logger  zerolog.Logger
	address string
	modules []string
	control ControlPlane

	publisher Publisher
	snapStore SnapshotStore
	tickEvery time.Duration
	memoryMax int64

	nextMatch atomic.Uint64

	mu         sync.RWMutex
	nodeID     uint64
	heartbeat  time.Duration
	maxMatches int
	nextID     types.ContainerID
	containers map[types.ContainerID]*Container

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates an engine node. Modules defaults to every known module.
func NewEngine(cfg Config) *Engine {
	modules := cfg.Modules
	if len(modules) == 0 {
		modules = module.KnownModules()
	}
	maxMatches := cfg.MaxMatches
	if maxMatches <= 0 {
		maxMatches = 64
	}
	return &Engine{
		logger:     log.WithComponent("engine"),
		address:    cfg.AdvertiseAddress,
		modules:    modules,
		control:    cfg.Control,
		publisher:  cfg.Publisher,
		snapStore:  cfg.Store,
		tickEvery:  cfg.TickInterval,
		memoryMax:  cfg.MemoryMax,
		nodeID:     cfg.NodeID,
		heartbeat:  DefaultHeartbeatInterval,
		maxMatches: maxMatches,
		nextID:     1,
		containers: make(map[types.ContainerID]*Container),
		stopCh:     make(chan struct{}),
	}
}

// NodeID returns the node's cluster identity.
func (e *Engine) NodeID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodeID
}

// Modules returns the module catalog this node supports.
func (e *Engine) Modules() []string {
	out := make([]string, len(e.modules))
	copy(out, e.modules)
	return out
}

// Start registers the node with the control plane and begins the heartbeat
// loop. Standalone nodes (no control plane) skip both.
func (e *Engine) Start(ctx context.Context) error {
	if e.control == nil {
		e.logger.Info().Msg("running standalone, no control plane configured")
		return nil
	}

	node := types.Node{
		ID:         e.NodeID(),
		Address:    e.address,
		MaxMatches: e.maxMatches,
		Modules:    e.Modules(),
		Metrics:    e.Metrics(),
	}
	reg, err := e.control.RegisterNode(ctx, node)
	if err != nil {
		return errdefs.Wrap(errdefs.KindResourceUnavailable, err, "node registration failed")
	}
	interval := DefaultHeartbeatInterval
	if reg.HeartbeatIntervalMs > 0 {
		interval = time.Duration(reg.HeartbeatIntervalMs) * time.Millisecond
	}
	e.mu.Lock()
	e.nodeID = reg.NodeID
	e.heartbeat = interval
	e.mu.Unlock()
	e.logger = log.WithNodeID(reg.NodeID)
	e.logger.Info().Str("address", e.address).Dur("heartbeat", interval).Msg("registered with control plane")

	e.wg.Add(1)
	go e.heartbeatLoop(interval)
	return nil
}

// Stop halts the heartbeat loop and stops every container.
func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.wg.Wait()

	for _, c := range e.Containers() {
		if err := c.Stop(); err != nil {
			e.logger.Warn().Err(err).Uint64("container_id", uint64(c.ID)).Msg("container stop failed")
		}
	}
}

// heartbeatLoop reports metrics and match state at the cadence the
// control plane announced at registration.
func (e *Engine) heartbeatLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := e.control.Heartbeat(ctx, e.NodeID(), e.Metrics(), e.MatchViews())
			cancel()
			if err != nil {
				e.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-e.stopCh:
			return
		}
	}
}

// CreateContainer allocates a container running the named modules.
func (e *Engine) CreateContainer(modules []string, tickInterval time.Duration) (*Container, error) {
	if len(modules) == 0 {
		modules = e.Modules()
	}
	for _, name := range modules {
		if !module.KnownModule(name) {
			return nil, errdefs.NotFound("module", name)
		}
	}
	if tickInterval <= 0 {
		tickInterval = e.tickEvery
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	nodeID := e.nodeID
	e.mu.Unlock()

	c, err := NewContainer(ContainerConfig{
		ID:           id,
		NodeID:       nodeID,
		Modules:      module.Builtins(modules),
		TickInterval: tickInterval,
		Publisher:    e.publisher,
		Store:        e.snapStore,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.containers[id] = c
	e.mu.Unlock()
	e.logger.Info().Uint64("container_id", uint64(id)).Strs("modules", modules).Msg("container created")
	return c, nil
}

// Container returns a container by id.
func (e *Engine) Container(id types.ContainerID) (*Container, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.containers[id]
	if !ok {
		return nil, errdefs.NotFound("container", uint64(id))
	}
	return c, nil
}

// Containers returns all containers sorted by id.
func (e *Engine) Containers() []*Container {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Container, 0, len(e.containers))
	for _, c := range e.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveContainer stops a container and releases its slot, along with the
// persisted snapshot history of its matches.
func (e *Engine) RemoveContainer(id types.ContainerID) error {
	c, err := e.Container(id)
	if err != nil {
		return err
	}
	matches := c.Matches()
	if err := c.Stop(); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.containers, id)
	e.mu.Unlock()
	if e.snapStore != nil {
		for _, m := range matches {
			if err := e.snapStore.DeleteSnapshots(m.ID); err != nil {
				e.logger.Warn().Err(err).Uint64("match_id", uint64(m.ID)).Msg("failed to delete snapshot history")
			}
		}
	}
	e.logger.Info().Uint64("container_id", uint64(id)).Msg("container removed")
	return nil
}

// AllocateMatchID reserves a node-local match id for standalone use.
// Cluster-placed matches carry ids allocated by the control plane.
func (e *Engine) AllocateMatchID() types.MatchID {
	return types.MatchID(e.nextMatch.Add(1))
}

// FindMatch locates a match across all containers on this node.
func (e *Engine) FindMatch(id types.MatchID) (*Container, *Match, error) {
	for _, c := range e.Containers() {
		if m, err := c.Match(id); err == nil {
			return c, m, nil
		}
	}
	return nil, nil, errdefs.NotFound("match", uint64(id))
}

// HistorySnapshot loads a persisted snapshot of a match. A zero tick
// loads the latest persisted one.
func (e *Engine) HistorySnapshot(matchID types.MatchID, tick uint64) (*types.Snapshot, error) {
	if e.snapStore == nil {
		return nil, errdefs.New(errdefs.KindResourceUnavailable, "snapshot persistence is not configured")
	}
	if tick == 0 {
		return e.snapStore.LatestSnapshot(matchID)
	}
	return e.snapStore.GetSnapshot(matchID, tick)
}

// MatchViews returns the control-plane view of every match on this node.
func (e *Engine) MatchViews() []types.Match {
	nodeID := e.NodeID()
	var out []types.Match
	for _, c := range e.Containers() {
		for _, m := range c.Matches() {
			out = append(out, m.View(nodeID, c.ID))
		}
	}
	return out
}

// Metrics assembles the per-heartbeat resource report. CPU usage is
// approximated by how much of each container's tick interval the last tick
// consumed; memory comes from the Go runtime.
func (e *Engine) Metrics() types.NodeMetrics {
	containers := e.Containers()
	matchCount := 0
	busy := 0.0
	saturatedQueue := false
	for _, c := range containers {
		matchCount += len(c.Matches())
		cm := c.Metrics()
		if iv := c.TickInterval(); iv > 0 {
			frac := cm.LastTickMs / float64(iv.Milliseconds())
			if frac > 1 {
				frac = 1
			}
			busy += frac
		}
		if c.QueueSaturated() {
			saturatedQueue = true
		}
	}
	cpu := 0.0
	if len(containers) > 0 {
		cpu = busy / float64(len(containers))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memUsed := int64(ms.HeapAlloc)
	memMax := e.memoryMax
	if memMax <= 0 {
		memMax = int64(ms.Sys)
	}

	m := types.NodeMetrics{
		ContainerCount: len(containers),
		MatchCount:     matchCount,
		CPUUsage:       cpu,
		MemoryUsed:     memUsed,
		MemoryMax:      memMax,
	}
	m.Saturation = e.saturation(m, saturatedQueue)
	return m
}

// saturation blends match occupancy, CPU, and memory into a single [0,1]
// score. A saturated command queue floors the score at 0.9 so the router
// steers new matches elsewhere.
func (e *Engine) saturation(m types.NodeMetrics, queueSaturated bool) float64 {
	e.mu.RLock()
	maxMatches := e.maxMatches
	e.mu.RUnlock()

	occupancy := 0.0
	if maxMatches > 0 {
		occupancy = float64(m.MatchCount) / float64(maxMatches)
	}
	mem := 0.0
	if m.MemoryMax > 0 {
		mem = float64(m.MemoryUsed) / float64(m.MemoryMax)
	}
	score := 0.5*occupancy + 0.3*m.CPUUsage + 0.2*mem
	if queueSaturated && score < 0.9 {
		score = 0.9
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

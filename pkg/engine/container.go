package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/command"
	"github.com/stormstack/lightning/pkg/ecs"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/snapshot"
	"github.com/stormstack/lightning/pkg/types"
)

// Defaults for the tick pipeline.
const (
	DefaultTickInterval       = 50 * time.Millisecond
	DefaultMaxCommandsPerTick = 256

	// tickBudgetFactor sizes the slow-tick budget relative to the interval.
	tickBudgetFactor = 5

	// maxConsecutiveOverruns pauses the container for operator intervention.
	maxConsecutiveOverruns = 3

	// maxConsecutiveSystemFailures of one system on one match transitions
	// the match to ERROR.
	maxConsecutiveSystemFailures = 2
)

// Publisher receives the per-match outputs of a completed tick. The delta
// is nil when no prior snapshot was retained for the match. DropMatch is
// called when a match reaches a terminal status, so subscribers are closed
// instead of waiting for snapshots that will never come.
type Publisher interface {
	PublishSnapshot(matchID types.MatchID, built *snapshot.Built, delta *types.DeltaSnapshot)
	PublishError(rec types.ErrorRecord)
	DropMatch(matchID types.MatchID)
}

// ContainerConfig creates a container.
type ContainerConfig struct {
	ID                 types.ContainerID
	NodeID             uint64
	Modules            []*module.Descriptor
	TickInterval       time.Duration
	MaxCommandsPerTick int
	QueueCapacity      int
	MaxEntities        int
	Publisher          Publisher
	Store              SnapshotStore
}

// Container is an engine-local execution domain: one ECS, one command
// queue, one module runtime, one tick loop, many matches.
type Container struct {
	ID     types.ContainerID
	NodeID uint64

	logger   zerolog.Logger
	registry *ecs.Registry
	store    ecs.Store
	runtime  *module.Runtime
	queue    *command.Queue
	builder  *snapshot.Builder
	errors   *errorRing

	publisher Publisher
	persist   SnapshotStore

	tickInterval       time.Duration
	maxCommandsPerTick int
	tickBudget         time.Duration

	mu      sync.Mutex
	status  types.ContainerStatus
	matches map[types.MatchID]*Match
	prior   map[types.MatchID]*snapshot.Built

	// tickMu serializes tick execution: single-threaded cooperative within
	// the container, parallel across containers.
	tickMu      sync.Mutex
	sysFailures map[types.MatchID]map[string]int
	overruns    int

	play playState

	stats tickStats
}

// NewContainer builds a container with its modules enabled. The component
// id allocator is scoped to the container and released with it.
func NewContainer(cfg ContainerConfig) (*Container, error) {
	registry := ecs.NewRegistry()
	runtime := module.NewRuntime(registry)
	if err := runtime.Enable(cfg.Modules...); err != nil {
		return nil, err
	}

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	maxCmds := cfg.MaxCommandsPerTick
	if maxCmds <= 0 {
		maxCmds = DefaultMaxCommandsPerTick
	}

	store := ecs.NewLocked(ecs.NewMapStore(registry, cfg.MaxEntities))
	c := &Container{
		ID:                 cfg.ID,
		NodeID:             cfg.NodeID,
		logger:             log.WithContainerID(uint64(cfg.ID)),
		registry:           registry,
		store:              store,
		runtime:            runtime,
		queue:              command.NewQueue(cfg.QueueCapacity),
		builder:            snapshot.NewBuilder(store, runtime),
		errors:             newErrorRing(DefaultErrorRingSize),
		publisher:          cfg.Publisher,
		persist:            cfg.Store,
		tickInterval:       interval,
		maxCommandsPerTick: maxCmds,
		tickBudget:         time.Duration(tickBudgetFactor) * interval,
		status:             types.ContainerStatusCreated,
		matches:            make(map[types.MatchID]*Match),
		prior:              make(map[types.MatchID]*snapshot.Built),
		sysFailures:        make(map[types.MatchID]map[string]int),
	}
	return c, nil
}

// Status returns the container lifecycle state.
func (c *Container) Status() types.ContainerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TickInterval returns the configured tick cadence.
func (c *Container) TickInterval() time.Duration { return c.tickInterval }

// Runtime exposes the module runtime for command listing.
func (c *Container) Runtime() *module.Runtime { return c.runtime }

// Store exposes the (locked) store for read paths.
func (c *Container) Store() ecs.Store { return c.store }

// Start moves the container to RUNNING. Idempotent.
func (c *Container) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case types.ContainerStatusRunning:
		return nil
	case types.ContainerStatusCreated, types.ContainerStatusPaused:
		c.status = types.ContainerStatusRunning
		return nil
	default:
		return errdefs.New(errdefs.KindPreconditionFailed,
			"cannot start container %d in status %s", c.ID, c.status)
	}
}

// Pause suspends ticking. Idempotent.
func (c *Container) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case types.ContainerStatusPaused:
		return nil
	case types.ContainerStatusRunning:
		c.status = types.ContainerStatusPaused
		return nil
	default:
		return errdefs.New(errdefs.KindPreconditionFailed,
			"cannot pause container %d in status %s", c.ID, c.status)
	}
}

// Resume is Pause's inverse.
func (c *Container) Resume() error { return c.Start() }

// Stop terminates the container and releases its resources on every exit
// path. STOPPED is terminal; Stop is idempotent.
func (c *Container) Stop() error {
	c.StopPlay()

	// Wait for an in-flight tick to finish.
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == types.ContainerStatusStopped {
		return nil
	}
	c.status = types.ContainerStatusStopped
	for id := range c.matches {
		c.queue.DropMatch(id)
		c.errors.drop(id)
		if c.publisher != nil {
			c.publisher.DropMatch(id)
		}
	}
	c.matches = make(map[types.MatchID]*Match)
	c.prior = make(map[types.MatchID]*snapshot.Built)
	c.logger.Info().Msg("container stopped")
	return nil
}

// CreateMatch registers a match. Its module list must be a subset of the
// container's enabled modules.
func (c *Container) CreateMatch(id types.MatchID, modules []string, playerLimit int) (*Match, error) {
	if len(modules) == 0 {
		modules = c.runtime.ModuleNames()
	}
	for _, name := range modules {
		if !c.runtime.Enabled(name) {
			return nil, errdefs.New(errdefs.KindPreconditionFailed,
				"module %q is not enabled on container %d", name, c.ID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == types.ContainerStatusStopped {
		return nil, errdefs.New(errdefs.KindPreconditionFailed, "container %d is stopped", c.ID)
	}
	if _, exists := c.matches[id]; exists {
		return nil, errdefs.New(errdefs.KindConflict, "match %d already exists", id)
	}
	m := NewMatch(id, modules, playerLimit)
	c.matches[id] = m
	c.logger.Info().Uint64("match_id", uint64(id)).Strs("modules", modules).Msg("match created")
	return m, nil
}

// EnableModules enables additional modules on a live container. Already
// enabled modules are skipped.
func (c *Container) EnableModules(names []string) error {
	var missing []string
	for _, n := range names {
		if !module.KnownModule(n) {
			return errdefs.NotFound("module", n)
		}
		if !c.runtime.Enabled(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	if err := c.runtime.Enable(module.Builtins(missing)...); err != nil {
		return err
	}
	c.logger.Info().Strs("modules", missing).Msg("modules enabled")
	return nil
}

// Match returns a match by id.
func (c *Container) Match(id types.MatchID) (*Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.matches[id]
	if !ok {
		return nil, errdefs.NotFound("match", uint64(id))
	}
	return m, nil
}

// Matches returns all matches sorted by id.
func (c *Container) Matches() []*Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Match, 0, len(c.matches))
	for _, m := range c.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FinishMatch transitions a match to FINISHED, destroys its entities,
// drops its queued commands, and closes its stream subscribers.
func (c *Container) FinishMatch(id types.MatchID) error {
	m, err := c.Match(id)
	if err != nil {
		return err
	}
	if err := m.Finish(); err != nil {
		return err
	}
	c.queue.DropMatch(id)
	c.destroyMatchEntities(id)
	if c.publisher != nil {
		c.publisher.DropMatch(id)
	}
	return nil
}

func (c *Container) destroyMatchEntities(id types.MatchID) {
	su := types.SuperuserPrincipal()
	matchCol := c.registry.MatchID()
	for _, e := range c.store.EntitiesWith(matchCol) {
		if types.MatchID(c.store.Get(e, matchCol)) == id {
			if err := c.store.DeleteEntity(su, e); err != nil {
				c.logger.Warn().Err(err).Uint64("entity_id", uint64(e)).Msg("failed to destroy entity")
			}
		}
	}
}

// SubmitCommand validates and enqueues a command for the next tick.
func (c *Container) SubmitCommand(p types.Principal, matchID types.MatchID, name string, payload map[string]any) error {
	m, err := c.Match(matchID)
	if err != nil {
		return err
	}
	// I4: terminal matches accept no commands.
	if st := m.Status(); st.Terminal() {
		return errdefs.New(errdefs.KindPreconditionFailed,
			"match %d is %s and accepts no commands", matchID, st)
	}

	_, spec, err := c.runtime.ResolveCommand(name)
	if err != nil {
		return err
	}
	args, err := command.Coerce(spec.Params, payload)
	if err != nil {
		return err
	}

	return c.queue.Push(command.Envelope{
		ContainerID: c.ID,
		MatchID:     matchID,
		PlayerID:    p.PlayerID,
		Name:        name,
		Args:        args,
		AuthoredAt:  time.Now(),
	})
}

// QueueSaturated reports whether any match queue is at or past 90% full,
// which the node relays to the control plane as elevated saturation.
func (c *Container) QueueSaturated() bool { return c.queue.Saturated() }

// LatestSnapshot returns the retained snapshot of a match, if any.
func (c *Container) LatestSnapshot(id types.MatchID) (*snapshot.Built, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.prior[id]
	return b, ok
}

// FullSnapshot builds an unscoped snapshot of the current state.
func (c *Container) FullSnapshot(id types.MatchID) (*snapshot.Built, error) {
	m, err := c.Match(id)
	if err != nil {
		return nil, err
	}
	return c.builder.Full(id, m.CurrentTick(), nil), nil
}

// PlayerSnapshot builds a player-scoped snapshot of the current state.
func (c *Container) PlayerSnapshot(id types.MatchID, player types.PlayerID) (*snapshot.Built, error) {
	m, err := c.Match(id)
	if err != nil {
		return nil, err
	}
	return c.builder.Full(id, m.CurrentTick(), &snapshot.Scope{PlayerID: player}), nil
}

// RecentErrors returns the retained error records of a match.
func (c *Container) RecentErrors(id types.MatchID) []types.ErrorRecord {
	return c.errors.recent(id)
}

package engine

import (
	"sync"
	"time"

	"github.com/stormstack/lightning/pkg/command"
	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/module"
	"github.com/stormstack/lightning/pkg/snapshot"
	"github.com/stormstack/lightning/pkg/types"
)

// playState tracks the periodic drive mode. Stop is level-triggered: a stop
// observed mid-tick lets the current tick finish.
type playState struct {
	mu      sync.Mutex
	playing bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Tick executes exactly one tick of the pipeline. The manual drive mode
// for tests and the step endpoint.
func (c *Container) Tick() error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	return c.runTick()
}

// Play starts the periodic drive mode with the given interval. A zero
// interval uses the container's configured tick interval. Idempotent.
func (c *Container) Play(interval time.Duration) error {
	if interval <= 0 {
		interval = c.tickInterval
	}
	return c.startPlay(interval, -1)
}

// PlayN runs exactly n ticks at the given interval, then stops.
func (c *Container) PlayN(interval time.Duration, n int) error {
	if interval <= 0 {
		interval = c.tickInterval
	}
	if n <= 0 {
		return errdefs.BadRequest("tick count must be positive, got %d", n)
	}
	return c.startPlay(interval, n)
}

func (c *Container) startPlay(interval time.Duration, remaining int) error {
	if st := c.Status(); st != types.ContainerStatusRunning {
		if err := c.Start(); err != nil {
			return err
		}
	}

	c.play.mu.Lock()
	defer c.play.mu.Unlock()
	if c.play.playing {
		return nil
	}
	c.play.playing = true
	c.play.stopCh = make(chan struct{})
	c.play.doneCh = make(chan struct{})

	go c.playLoop(interval, remaining, c.play.stopCh, c.play.doneCh)
	c.logger.Info().Dur("interval", interval).Msg("play started")
	return nil
}

// StopPlay stops the periodic drive mode and waits for the in-flight tick
// to finish. Idempotent.
func (c *Container) StopPlay() {
	c.play.mu.Lock()
	if !c.play.playing {
		c.play.mu.Unlock()
		return
	}
	stopCh, doneCh := c.play.stopCh, c.play.doneCh
	c.play.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Playing reports whether the periodic drive mode is active.
func (c *Container) Playing() bool {
	c.play.mu.Lock()
	defer c.play.mu.Unlock()
	return c.play.playing
}

func (c *Container) playLoop(interval time.Duration, remaining int, stopCh, doneCh chan struct{}) {
	defer func() {
		c.play.mu.Lock()
		c.play.playing = false
		c.play.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if c.Status() != types.ContainerStatusRunning {
				return
			}
			c.tickMu.Lock()
			err := c.runTick()
			c.tickMu.Unlock()
			if err != nil {
				c.logger.Error().Err(err).Msg("tick failed")
			}
			if remaining > 0 {
				remaining--
				if remaining == 0 {
					return
				}
			}
		}
	}
}

// runTick executes the strictly ordered pipeline: readiness, command
// drain, system pass, tick increment, snapshot publish. Callers hold
// tickMu.
func (c *Container) runTick() error {
	if st := c.Status(); st != types.ContainerStatusRunning {
		return errdefs.New(errdefs.KindPreconditionFailed,
			"container %d is not running (status %s)", c.ID, st)
	}
	started := time.Now()

	// Stage 1: snapshot of readiness.
	running := make([]*Match, 0)
	for _, m := range c.Matches() {
		if m.Status() == types.MatchStatusRunning {
			running = append(running, m)
		}
	}

	// Stage 2: command drain, FIFO per match.
	cmdTimings := make([]OpTiming, 0)
	for _, m := range running {
		for _, env := range c.queue.Drain(m.ID, c.maxCommandsPerTick) {
			t := time.Now()
			err := c.executeCommand(m, env)
			cmdTimings = append(cmdTimings, OpTiming{
				Name:     env.Name,
				Duration: time.Since(t),
				Success:  err == nil,
			})
			if err != nil {
				c.captureError(m, types.ErrorSourceCommand, env.Name, err)
			}
		}
	}

	// Stage 3: system pass over post-drain state, dependency order.
	sysTimings := make([]OpTiming, 0)
	for _, m := range running {
		if m.Status() != types.MatchStatusRunning {
			continue
		}
		c.runSystems(m, &sysTimings)
	}

	// Stages 4 and 5: per match, advance the tick then publish.
	for _, m := range running {
		if m.Status() != types.MatchStatusRunning {
			continue
		}
		tick := m.advanceTick()
		built := c.builder.Full(m.ID, tick, nil)

		var delta *types.DeltaSnapshot
		c.mu.Lock()
		if prior, ok := c.prior[m.ID]; ok {
			delta = snapshot.Diff(prior, built)
		}
		c.prior[m.ID] = built
		c.mu.Unlock()

		if c.publisher != nil {
			c.publisher.PublishSnapshot(m.ID, built, delta)
		}
		if c.persist != nil {
			if err := c.persist.SaveSnapshot(built.Snap); err != nil {
				c.logger.Warn().Err(err).Uint64("match_id", uint64(m.ID)).Msg("snapshot persist failed")
			}
		}
		metrics.SnapshotsBuilt.Inc()
	}

	elapsed := time.Since(started)
	c.stats.observe(elapsed, cmdTimings, sysTimings, c.queue.TotalLen())
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(elapsed.Seconds())

	if elapsed > c.tickBudget {
		c.overruns++
		c.logger.Warn().
			Dur("elapsed", elapsed).
			Dur("budget", c.tickBudget).
			Int("consecutive", c.overruns).
			Msg("slow tick")
		metrics.SlowTicks.Inc()
		if c.overruns >= maxConsecutiveOverruns {
			c.logger.Error().Msg("repeated tick overruns, pausing container")
			return c.Pause()
		}
	} else {
		c.overruns = 0
	}
	return nil
}

// executeCommand runs one envelope under the owning module's authority.
func (c *Container) executeCommand(m *Match, env command.Envelope) error {
	moduleName, spec, err := c.runtime.ResolveCommand(env.Name)
	if err != nil {
		return err
	}
	ctx := c.execContext(m, moduleName, env.PlayerID)
	return spec.Handler(ctx, env.Args)
}

func (c *Container) runSystems(m *Match, timings *[]OpTiming) {
	enabled := make(map[string]struct{}, len(m.Modules))
	for _, name := range m.Modules {
		enabled[name] = struct{}{}
	}

	for _, in := range c.runtime.Instances() {
		name := in.Descriptor.Name
		if _, ok := enabled[name]; !ok {
			continue
		}
		for _, sys := range in.Descriptor.Systems {
			t := time.Now()
			ctx := c.execContext(m, name, 0)
			err := runSystem(sys, ctx)
			*timings = append(*timings, OpTiming{
				Name:     sys.Name,
				Duration: time.Since(t),
				Success:  err == nil,
			})
			if err == nil {
				c.resetSystemFailures(m.ID, sys.Name)
				continue
			}

			c.captureError(m, types.ErrorSourceSystem, sys.Name, err)
			if c.bumpSystemFailures(m.ID, sys.Name) >= maxConsecutiveSystemFailures {
				c.logger.Error().
					Uint64("match_id", uint64(m.ID)).
					Str("system", sys.Name).
					Msg("system failed twice in a row, marking match errored")
				if err := m.MarkError(); err == nil {
					c.queue.DropMatch(m.ID)
					if c.publisher != nil {
						c.publisher.DropMatch(m.ID)
					}
				}
			}
		}
		if m.Status() != types.MatchStatusRunning {
			return
		}
	}
}

// runSystem isolates a panicking system so the tick never unwinds.
func runSystem(sys module.SystemSpec, ctx *module.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errdefs.New(errdefs.KindInternal, "system %s panicked: %v", sys.Name, r)
		}
	}()
	return sys.Fn(ctx)
}

func (c *Container) execContext(m *Match, moduleName string, player types.PlayerID) *module.Context {
	return &module.Context{
		Store:     c.store,
		MatchID:   m.ID,
		PlayerID:  player,
		Tick:      m.CurrentTick(),
		Principal: types.Principal{Name: moduleName, PlayerID: player},
		Spawn: func() (types.EntityID, error) {
			return c.runtime.Spawn(c.store, m.ID, m.Modules...)
		},
		Despawn: func(e types.EntityID) error {
			return c.runtime.Despawn(c.store, e)
		},
		Enqueue: func(name string, playerID types.PlayerID, args map[string]float32) {
			// Queued for the NEXT tick: the current drain list is already
			// fixed, so this never executes within the same tick.
			err := c.queue.Push(command.Envelope{
				ContainerID: c.ID,
				MatchID:     m.ID,
				PlayerID:    playerID,
				Name:        name,
				Args:        args,
				AuthoredAt:  time.Now(),
			})
			if err != nil {
				c.captureError(m, types.ErrorSourceCommand, name, err)
			}
		},
		Export: c.runtime.Export,
	}
}

func (c *Container) captureError(m *Match, source types.ErrorSource, name string, err error) {
	rec := types.ErrorRecord{
		MatchID: m.ID,
		Tick:    m.CurrentTick(),
		Source:  source,
		Name:    name,
		Code:    string(errdefs.Code(err)),
		Message: err.Error(),
		At:      time.Now(),
	}
	c.errors.record(rec)
	if c.publisher != nil {
		c.publisher.PublishError(rec)
	}
	metrics.ExecutionErrors.WithLabelValues(string(source)).Inc()
}

func (c *Container) resetSystemFailures(matchID types.MatchID, system string) {
	if fails, ok := c.sysFailures[matchID]; ok {
		delete(fails, system)
	}
}

func (c *Container) bumpSystemFailures(matchID types.MatchID, system string) int {
	fails, ok := c.sysFailures[matchID]
	if !ok {
		fails = make(map[string]int)
		c.sysFailures[matchID] = fails
	}
	fails[system]++
	return fails[system]
}

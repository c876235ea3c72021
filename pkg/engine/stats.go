package engine

import (
	"sync"
	"time"
)

// OpTiming records one command or system execution inside a tick.
type OpTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"-"`
	Success  bool          `json:"success"`
}

// ContainerMetrics is the observability view served by the node API.
type ContainerMetrics struct {
	ContainerID      uint64      `json:"containerId"`
	TotalTicks       uint64      `json:"totalTicks"`
	LastTickMs       float64     `json:"lastTickMs"`
	AvgTickMs        float64     `json:"avgTickMs"`
	MinTickMs        float64     `json:"minTickMs"`
	MaxTickMs        float64     `json:"maxTickMs"`
	TotalEntities    int         `json:"totalEntities"`
	ComponentTypes   int         `json:"totalComponentTypes"`
	CommandQueueSize int         `json:"commandQueueSize"`
	LastTickSystems  []OpSummary `json:"lastTickSystems,omitempty"`
	LastTickCommands []OpSummary `json:"lastTickCommands,omitempty"`
}

// OpSummary is the wire form of OpTiming.
type OpSummary struct {
	Name            string  `json:"name"`
	ExecutionTimeMs float64 `json:"executionTimeMs"`
	Success         bool    `json:"success"`
}

type tickStats struct {
	mu           sync.Mutex
	totalTicks   uint64
	totalDur     time.Duration
	lastDur      time.Duration
	minDur       time.Duration
	maxDur       time.Duration
	lastCommands []OpTiming
	lastSystems  []OpTiming
	queueSize    int
}

func (s *tickStats) observe(elapsed time.Duration, commands, systems []OpTiming, queueSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTicks++
	s.totalDur += elapsed
	s.lastDur = elapsed
	if s.minDur == 0 || elapsed < s.minDur {
		s.minDur = elapsed
	}
	if elapsed > s.maxDur {
		s.maxDur = elapsed
	}
	s.lastCommands = commands
	s.lastSystems = systems
	s.queueSize = queueSize
}

// Metrics assembles the observability view of the container.
func (c *Container) Metrics() ContainerMetrics {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()

	m := ContainerMetrics{
		ContainerID:      uint64(c.ID),
		TotalTicks:       c.stats.totalTicks,
		LastTickMs:       durMs(c.stats.lastDur),
		MinTickMs:        durMs(c.stats.minDur),
		MaxTickMs:        durMs(c.stats.maxDur),
		TotalEntities:    c.store.EntityCount(),
		ComponentTypes:   c.store.ComponentCount(),
		CommandQueueSize: c.stats.queueSize,
		LastTickSystems:  summarize(c.stats.lastSystems),
		LastTickCommands: summarize(c.stats.lastCommands),
	}
	if c.stats.totalTicks > 0 {
		m.AvgTickMs = durMs(c.stats.totalDur / time.Duration(c.stats.totalTicks))
	}
	return m
}

func summarize(timings []OpTiming) []OpSummary {
	if len(timings) == 0 {
		return nil
	}
	out := make([]OpSummary, len(timings))
	for i, t := range timings {
		out[i] = OpSummary{Name: t.Name, ExecutionTimeMs: durMs(t.Duration), Success: t.Success}
	}
	return out
}

func durMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

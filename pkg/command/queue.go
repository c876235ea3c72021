package command

import (
	"sync"
	"time"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// DefaultCapacity is the per-match queue bound.
const DefaultCapacity = 1024

// saturationThreshold is the fill fraction at which the container reports
// elevated saturation to the control plane.
const saturationThreshold = 0.9

// Envelope is a validated command waiting for the next tick.
type Envelope struct {
	ContainerID types.ContainerID
	MatchID     types.MatchID
	PlayerID    types.PlayerID
	Name        string
	Args        map[string]float32
	AuthoredAt  time.Time
}

// Queue buffers commands per match in submission order. Each match has an
// independent bounded FIFO; ordering across matches is unrelated.
type Queue struct {
	mu       sync.Mutex
	capacity int
	byMatch  map[types.MatchID][]Envelope
}

// NewQueue creates a queue with the given per-match capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		byMatch:  make(map[types.MatchID][]Envelope),
	}
}

// Push appends an envelope to its match FIFO. Returns Backpressure when the
// match queue is full; the submitter should retry with jittered backoff.
func (q *Queue) Push(env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	fifo := q.byMatch[env.MatchID]
	if len(fifo) >= q.capacity {
		return errdefs.Backpressure(uint64(env.MatchID), q.capacity)
	}
	q.byMatch[env.MatchID] = append(fifo, env)
	return nil
}

// Drain pops up to n envelopes for a match in submission order.
func (q *Queue) Drain(matchID types.MatchID, n int) []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	fifo := q.byMatch[matchID]
	if len(fifo) == 0 {
		return nil
	}
	if n <= 0 || n > len(fifo) {
		n = len(fifo)
	}

	out := make([]Envelope, n)
	copy(out, fifo[:n])

	rest := fifo[n:]
	if len(rest) == 0 {
		delete(q.byMatch, matchID)
	} else {
		q.byMatch[matchID] = append([]Envelope(nil), rest...)
	}
	return out
}

// DropMatch discards every queued command for a match. Called when the
// match reaches a terminal state.
func (q *Queue) DropMatch(matchID types.MatchID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byMatch, matchID)
}

// Len returns the number of queued commands for a match.
func (q *Queue) Len(matchID types.MatchID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byMatch[matchID])
}

// TotalLen returns the number of queued commands across all matches.
func (q *Queue) TotalLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, fifo := range q.byMatch {
		total += len(fifo)
	}
	return total
}

// Saturated reports whether any match queue is at or past the 90% threshold.
func (q *Queue) Saturated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, fifo := range q.byMatch {
		if float64(len(fifo)) >= saturationThreshold*float64(q.capacity) {
			return true
		}
	}
	return false
}

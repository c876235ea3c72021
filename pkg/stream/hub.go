package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/snapshot"
	"github.com/stormstack/lightning/pkg/types"
)

// Mode selects what a subscription receives each tick.
type Mode int

const (
	// ModeFull delivers the complete snapshot every tick.
	ModeFull Mode = iota
	// ModeDelta delivers change sets, falling back to a resync-flagged
	// full snapshot after coalescing.
	ModeDelta
)

// Message is one frame on a subscription.
type Message struct {
	Type     string               `json:"type"` // "snapshot", "delta", "error"
	Resync   bool                 `json:"resync,omitempty"`
	Snapshot *types.Snapshot      `json:"snapshot,omitempty"`
	Delta    *types.DeltaSnapshot `json:"delta,omitempty"`
	Error    *types.ErrorRecord   `json:"error,omitempty"`
}

// Hub fans tick outputs to streaming subscribers. It implements
// engine.Publisher; publishing never blocks the tick thread.
type Hub struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	subs map[types.MatchID]map[*Subscriber]struct{}
}

// NewHub creates an empty fanout hub.
func NewHub() *Hub {
	return &Hub{
		logger: log.WithComponent("stream"),
		subs:   make(map[types.MatchID]map[*Subscriber]struct{}),
	}
}

// Subscribe attaches a subscriber to a match. Error frames are delivered
// only when the token carries receive_errors.
func (h *Hub) Subscribe(matchID types.MatchID, mode Mode, token *types.MatchToken) *Subscriber {
	s := newSubscriber(matchID, mode, token)
	h.mu.Lock()
	set, ok := h.subs[matchID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[matchID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	metrics.FanoutSubscribers.Inc()
	return s
}

// Unsubscribe detaches and closes a subscriber. Idempotent.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	set, ok := h.subs[s.matchID]
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.matchID)
			}
			metrics.FanoutSubscribers.Dec()
		}
	}
	h.mu.Unlock()
	s.close(nil)
}

// DropMatch closes every subscription on a match. Called when the match
// reaches a terminal status, since it emits no further snapshots.
func (h *Hub) DropMatch(matchID types.MatchID) {
	h.mu.Lock()
	set := h.subs[matchID]
	delete(h.subs, matchID)
	h.mu.Unlock()

	for s := range set {
		metrics.FanoutSubscribers.Dec()
		s.close(nil)
	}
}

// PublishSnapshot delivers a tick's snapshot to every subscriber of the
// match. Delta subscribers get the delta when one exists and they are
// keeping up; otherwise they coalesce to a resync full.
func (h *Hub) PublishSnapshot(matchID types.MatchID, built *snapshot.Built, delta *types.DeltaSnapshot) {
	h.mu.RLock()
	set := h.subs[matchID]
	slow := make([]*Subscriber, 0)
	for s := range set {
		if !s.offer(built.Snap, delta) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn().
			Uint64("match_id", uint64(matchID)).
			Uint64("player_id", uint64(s.PlayerID())).
			Msg("closing slow consumer")
		h.Unsubscribe(s)
	}
}

// PublishError delivers an error record to receive_errors subscribers.
// Error frames are droppable: a full queue loses them silently.
func (h *Hub) PublishError(rec types.ErrorRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[rec.MatchID] {
		s.offerError(rec)
	}
}

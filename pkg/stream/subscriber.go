package stream

import (
	"context"
	"sync"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/metrics"
	"github.com/stormstack/lightning/pkg/types"
)

const (
	// deltaQueueCap bounds how many unread delta frames a subscriber may
	// accumulate before coalescing to a single resync full.
	deltaQueueCap = 8

	// maxUnreadResyncs closes a subscriber that never drains: it failed
	// to pick up this many consecutive coalesced fulls.
	maxUnreadResyncs = 32
)

// Subscriber is one streaming consumer of a match. Frames are produced by
// the hub on the tick thread and consumed by a connection handler via
// Next; last-value-wins coalescing keeps publishing non-blocking.
type Subscriber struct {
	matchID types.MatchID
	mode    Mode
	token   *types.MatchToken

	mu            sync.Mutex
	deltas        []Message
	errors        []Message
	full          *types.Snapshot
	resync        bool
	unreadResyncs int
	closed        bool
	closeErr      error

	notify chan struct{}
}

func newSubscriber(matchID types.MatchID, mode Mode, token *types.MatchToken) *Subscriber {
	return &Subscriber{
		matchID: matchID,
		mode:    mode,
		token:   token,
		notify:  make(chan struct{}, 1),
	}
}

// MatchID returns the subscribed match.
func (s *Subscriber) MatchID() types.MatchID { return s.matchID }

// PlayerID returns the subscribing player, or zero for unscoped tokens.
func (s *Subscriber) PlayerID() types.PlayerID {
	if s.token == nil {
		return 0
	}
	return s.token.PlayerID
}

// offer enqueues a tick's output. Returns false when the subscriber has
// proven itself a slow consumer and should be closed.
func (s *Subscriber) offer(snap *types.Snapshot, delta *types.DeltaSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	switch s.mode {
	case ModeFull:
		// Last value wins: an unread full is replaced, not queued.
		if s.full != nil {
			metrics.FanoutDropped.Inc()
			s.unreadResyncs++
			if s.unreadResyncs >= maxUnreadResyncs {
				s.closeLocked(errdefs.New(errdefs.KindSlowConsumer, "subscriber cannot keep up"))
				return false
			}
		} else {
			s.unreadResyncs = 0
		}
		s.full = snap

	case ModeDelta:
		switch {
		case s.resync:
			// Already collapsed: keep only the newest full.
			metrics.FanoutDropped.Inc()
			s.full = snap
			s.unreadResyncs++
			if s.unreadResyncs >= maxUnreadResyncs {
				s.closeLocked(errdefs.New(errdefs.KindSlowConsumer, "subscriber cannot keep up"))
				return false
			}
		case delta == nil || len(s.deltas) >= deltaQueueCap:
			// No delta available, or the queue overflowed: collapse the
			// backlog to one full snapshot flagged for resync.
			if len(s.deltas) > 0 {
				metrics.FanoutDropped.Inc()
			}
			s.deltas = nil
			s.full = snap
			s.resync = true
		default:
			s.unreadResyncs = 0
			s.deltas = append(s.deltas, Message{Type: "delta", Delta: delta})
		}
	}

	s.wake()
	return true
}

// offerError enqueues an error frame when the token carries the scope.
// Overflow drops the record.
func (s *Subscriber) offerError(rec types.ErrorRecord) {
	if s.token != nil && !s.token.HasScope(types.ScopeReceiveErrors) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.errors) >= deltaQueueCap {
		return
	}
	r := rec
	s.errors = append(s.errors, Message{Type: "error", Error: &r})
	s.wake()
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available, the subscription closes, or the
// context is done. Frame order: pending full (resync first), then deltas,
// then error records.
func (s *Subscriber) Next(ctx context.Context) (Message, error) {
	for {
		s.mu.Lock()
		if msg, ok := s.popLocked(); ok {
			s.mu.Unlock()
			return msg, nil
		}
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = errdefs.New(errdefs.KindNotFound, "subscription closed")
			}
			return Message{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

func (s *Subscriber) popLocked() (Message, bool) {
	if s.full != nil {
		msg := Message{Type: "snapshot", Resync: s.resync, Snapshot: s.full}
		s.full = nil
		s.resync = false
		s.unreadResyncs = 0
		return msg, true
	}
	if len(s.deltas) > 0 {
		msg := s.deltas[0]
		s.deltas = s.deltas[1:]
		return msg, true
	}
	if len(s.errors) > 0 {
		msg := s.errors[0]
		s.errors = s.errors[1:]
		return msg, true
	}
	return Message{}, false
}

func (s *Subscriber) close(err error) {
	s.mu.Lock()
	s.closeLocked(err)
	s.mu.Unlock()
}

func (s *Subscriber) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	s.wake()
}

// CloseReason returns the error the subscription closed with, if any.
func (s *Subscriber) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

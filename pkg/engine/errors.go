package engine

import (
	"sync"

	"github.com/stormstack/lightning/pkg/types"
)

// DefaultErrorRingSize bounds the per-match error event ring.
const DefaultErrorRingSize = 256

// errorRing keeps the most recent error records per match.
type errorRing struct {
	mu      sync.Mutex
	size    int
	byMatch map[types.MatchID][]types.ErrorRecord
}

func newErrorRing(size int) *errorRing {
	if size <= 0 {
		size = DefaultErrorRingSize
	}
	return &errorRing{
		size:    size,
		byMatch: make(map[types.MatchID][]types.ErrorRecord),
	}
}

func (r *errorRing) record(rec types.ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := append(r.byMatch[rec.MatchID], rec)
	if len(ring) > r.size {
		ring = ring[len(ring)-r.size:]
	}
	r.byMatch[rec.MatchID] = ring
}

func (r *errorRing) recent(matchID types.MatchID) []types.ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ErrorRecord(nil), r.byMatch[matchID]...)
}

func (r *errorRing) drop(matchID types.MatchID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byMatch, matchID)
}

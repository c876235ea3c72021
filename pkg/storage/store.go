package storage

import (
	"github.com/stormstack/lightning/pkg/types"
)

// Store defines the interface for control plane state persistence.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Matches
	SaveMatch(m types.Match) error
	LoadMatches() ([]types.Match, error)
	DeleteMatch(id types.MatchID) error

	// Frozen snapshots
	SaveSnapshot(snap *types.Snapshot) error
	GetSnapshot(matchID types.MatchID, tick uint64) (*types.Snapshot, error)
	LatestSnapshot(matchID types.MatchID) (*types.Snapshot, error)
	DeleteSnapshots(matchID types.MatchID) error

	// Match tokens
	SaveToken(t types.MatchToken) error
	LoadTokens() ([]types.MatchToken, error)
	DeleteToken(id string) error

	// Utility
	Close() error
}

package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMatchRoundTrip verifies match persistence and deletion
func TestMatchRoundTrip(t *testing.T) {
	s := newTestStore(t)

	m := types.Match{
		ID:          7,
		NodeID:      2,
		ContainerID: 3,
		Modules:     []string{"EntityModule"},
		Status:      types.MatchStatusRunning,
		CurrentTick: 41,
		Players:     []types.PlayerID{10, 11},
		PlayerLimit: 4,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveMatch(m))

	all, err := s.LoadMatches()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, m, all[0])

	// Overwrite updates in place.
	m.Status = types.MatchStatusFinished
	require.NoError(t, s.SaveMatch(m))
	all, err = s.LoadMatches()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.MatchStatusFinished, all[0].Status)

	require.NoError(t, s.DeleteMatch(7))
	all, err = s.LoadMatches()
	require.NoError(t, err)
	assert.Empty(t, all)
	require.NoError(t, s.DeleteMatch(7), "deleting a missing match is a no-op")
}

// TestSnapshotHistory verifies per-match tick-ordered snapshot records
func TestSnapshotHistory(t *testing.T) {
	s := newTestStore(t)

	for _, tick := range []uint64{1, 300, 2} {
		require.NoError(t, s.SaveSnapshot(&types.Snapshot{
			MatchID: 9,
			Tick:    tick,
			Modules: []types.ModuleSnapshot{{Name: "EntityModule", Version: "1.0.0"}},
		}))
	}

	got, err := s.GetSnapshot(9, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Tick)

	// Big-endian keys: the cursor's last entry is the highest tick even
	// when written out of order.
	latest, err := s.LatestSnapshot(9)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), latest.Tick)

	_, err = s.GetSnapshot(9, 5)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
	_, err = s.LatestSnapshot(8)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))

	require.NoError(t, s.DeleteSnapshots(9))
	_, err = s.LatestSnapshot(9)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotFound))
	require.NoError(t, s.DeleteSnapshots(9), "deleting absent history is a no-op")
}

// TestTokenRoundTrip verifies token persistence
func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	tok := types.MatchToken{
		ID:         "abc123",
		MatchID:    4,
		PlayerID:   10,
		PlayerName: "alice",
		Scopes:     types.DefaultScopes(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, s.SaveToken(tok))

	all, err := s.LoadTokens()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, tok, all[0])

	require.NoError(t, s.DeleteToken("abc123"))
	all, err = s.LoadTokens()
	require.NoError(t, err)
	assert.Empty(t, all)
}

// TestReopen verifies data survives close and reopen
func TestReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveMatch(types.Match{ID: 1, Status: types.MatchStatusRunning}))
	require.NoError(t, s1.Close())

	s2, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	all, err := s2.LoadMatches()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.MatchStatusRunning, all[0].Status)
}

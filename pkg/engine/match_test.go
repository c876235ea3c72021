package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// TestMatchLifecycle verifies the transition graph and idempotence
func TestMatchLifecycle(t *testing.T) {
	m := NewMatch(1, []string{"EntityModule"}, 0)
	assert.Equal(t, types.MatchStatusCreated, m.Status())

	require.NoError(t, m.Start())
	require.NoError(t, m.Start(), "start is idempotent")
	assert.Equal(t, types.MatchStatusRunning, m.Status())

	require.NoError(t, m.Finish())
	require.NoError(t, m.Finish(), "finish is idempotent")
	assert.Equal(t, types.MatchStatusFinished, m.Status())

	// Terminal states are absorbing.
	err := m.Start()
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
	err = m.MarkError()
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
}

// TestMatchErrorAbsorbing verifies ERROR cannot be finished
func TestMatchErrorAbsorbing(t *testing.T) {
	m := NewMatch(1, nil, 0)
	require.NoError(t, m.Start())
	require.NoError(t, m.MarkError())
	require.NoError(t, m.MarkError())

	err := m.Finish()
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed))
}

// TestMatchJoin verifies admission rules and the player limit
func TestMatchJoin(t *testing.T) {
	m := NewMatch(1, nil, 2)

	err := m.Join(10)
	assert.True(t, errdefs.IsKind(err, errdefs.KindPreconditionFailed), "join requires RUNNING")

	require.NoError(t, m.Start())
	require.NoError(t, m.Join(10))
	require.NoError(t, m.Join(10), "rejoin is a no-op")
	require.NoError(t, m.Join(11))
	assert.Equal(t, []types.PlayerID{10, 11}, m.Players())

	err = m.Join(12)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindMatchFull))
	details := errdefs.Details(err)
	assert.Equal(t, 2, details["playerLimit"])
	assert.Equal(t, 2, details["currentPlayers"])

	// A player already admitted is unaffected by the full match.
	require.NoError(t, m.Join(11))
}

// TestMatchView verifies the control-plane representation
func TestMatchView(t *testing.T) {
	m := NewMatch(5, []string{"EntityModule"}, 4)
	require.NoError(t, m.Start())
	require.NoError(t, m.Join(9))
	m.advanceTick()

	v := m.View(3, 7)
	assert.Equal(t, types.MatchID(5), v.ID)
	assert.Equal(t, uint64(3), v.NodeID)
	assert.Equal(t, types.ContainerID(7), v.ContainerID)
	assert.Equal(t, types.MatchStatusRunning, v.Status)
	assert.Equal(t, uint64(1), v.CurrentTick)
	assert.Equal(t, []types.PlayerID{9}, v.Players)
	assert.Equal(t, 4, v.PlayerLimit)
}

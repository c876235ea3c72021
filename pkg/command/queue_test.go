package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// TestPushDrainOrder verifies per-match FIFO ordering
func TestPushDrainOrder(t *testing.T) {
	q := NewQueue(8)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(Envelope{MatchID: 1, Name: "move", Args: map[string]float32{"i": float32(i)}}))
	}
	require.NoError(t, q.Push(Envelope{MatchID: 2, Name: "spawn"}))

	got := q.Drain(1, 0)
	require.Len(t, got, 3)
	for i, env := range got {
		assert.Equal(t, float32(i), env.Args["i"], "submission order must be preserved")
	}

	assert.Equal(t, 0, q.Len(1))
	assert.Equal(t, 1, q.Len(2))
}

// TestDrainBounded verifies n caps a drain and the remainder stays queued
func TestDrainBounded(t *testing.T) {
	q := NewQueue(8)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(Envelope{MatchID: 1, Args: map[string]float32{"i": float32(i)}}))
	}

	first := q.Drain(1, 2)
	require.Len(t, first, 2)
	assert.Equal(t, float32(0), first[0].Args["i"])
	assert.Equal(t, float32(1), first[1].Args["i"])

	rest := q.Drain(1, 0)
	require.Len(t, rest, 3)
	assert.Equal(t, float32(2), rest[0].Args["i"])
}

// TestBackpressure verifies a full match queue rejects without touching others
func TestBackpressure(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(Envelope{MatchID: 1}))
	require.NoError(t, q.Push(Envelope{MatchID: 1}))

	err := q.Push(Envelope{MatchID: 1})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindBackpressure))
	details := errdefs.Details(err)
	assert.Equal(t, 2, details["capacity"])

	// Other matches keep their own bound.
	require.NoError(t, q.Push(Envelope{MatchID: 2}))
}

// TestDropMatch verifies terminal matches discard their queue
func TestDropMatch(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Push(Envelope{MatchID: 1}))
	require.NoError(t, q.Push(Envelope{MatchID: 2}))

	q.DropMatch(1)
	assert.Equal(t, 0, q.Len(1))
	assert.Equal(t, 1, q.Len(2))
	assert.Equal(t, 1, q.TotalLen())

	assert.Nil(t, q.Drain(1, 0))
}

// TestSaturated verifies the 90% fill threshold
func TestSaturated(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 8; i++ {
		require.NoError(t, q.Push(Envelope{MatchID: types.MatchID(1)}))
	}
	assert.False(t, q.Saturated())

	require.NoError(t, q.Push(Envelope{MatchID: 1}))
	assert.True(t, q.Saturated())
}

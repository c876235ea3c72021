package engine

import (
	"sync"
	"time"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// Match is the node-local record of one running game. Transitions are
// idempotent: re-applying a transition already holding is a no-op success.
type Match struct {
	mu sync.Mutex

	ID          types.MatchID
	Modules     []string
	PlayerLimit int
	CreatedAt   time.Time

	status      types.MatchStatus
	currentTick uint64
	players     []types.PlayerID
}

// NewMatch creates a match in CREATED.
func NewMatch(id types.MatchID, modules []string, playerLimit int) *Match {
	return &Match{
		ID:          id,
		Modules:     append([]string(nil), modules...),
		PlayerLimit: playerLimit,
		CreatedAt:   time.Now(),
		status:      types.MatchStatusCreated,
	}
}

// Status returns the current lifecycle state.
func (m *Match) Status() types.MatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// CurrentTick returns the last completed tick.
func (m *Match) CurrentTick() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTick
}

// Players returns a copy of the admitted player list.
func (m *Match) Players() []types.PlayerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PlayerID(nil), m.players...)
}

// Start moves the match to RUNNING. Idempotent.
func (m *Match) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case types.MatchStatusRunning:
		return nil
	case types.MatchStatusCreated:
		m.status = types.MatchStatusRunning
		return nil
	default:
		return errdefs.New(errdefs.KindPreconditionFailed,
			"cannot start match %d in status %s", m.ID, m.status)
	}
}

// Finish moves the match to FINISHED. Idempotent; FINISHED is absorbing.
func (m *Match) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case types.MatchStatusFinished:
		return nil
	case types.MatchStatusError:
		return errdefs.New(errdefs.KindPreconditionFailed,
			"cannot finish match %d in status %s", m.ID, m.status)
	default:
		m.status = types.MatchStatusFinished
		return nil
	}
}

// MarkError moves the match to ERROR. Idempotent; ERROR is absorbing.
func (m *Match) MarkError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case types.MatchStatusError:
		return nil
	case types.MatchStatusFinished:
		return errdefs.New(errdefs.KindPreconditionFailed,
			"cannot mark match %d errored in status %s", m.ID, m.status)
	default:
		m.status = types.MatchStatusError
		return nil
	}
}

// Join admits a player. Allowed only in RUNNING; re-joining is a no-op.
func (m *Match) Join(player types.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != types.MatchStatusRunning {
		return errdefs.New(errdefs.KindPreconditionFailed,
			"match %d is not running (status %s)", m.ID, m.status)
	}
	for _, p := range m.players {
		if p == player {
			return nil
		}
	}
	if m.PlayerLimit > 0 && len(m.players) >= m.PlayerLimit {
		return errdefs.MatchFull(m.PlayerLimit, len(m.players))
	}
	m.players = append(m.players, player)
	return nil
}

// advanceTick increments currentTick by exactly one (I7). Only the tick
// pipeline calls this.
func (m *Match) advanceTick() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTick++
	return m.currentTick
}

// View returns the control-plane representation of the match.
func (m *Match) View(nodeID uint64, containerID types.ContainerID) types.Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.Match{
		ID:          m.ID,
		NodeID:      nodeID,
		ContainerID: containerID,
		Modules:     append([]string(nil), m.Modules...),
		Status:      m.status,
		CurrentTick: m.currentTick,
		Players:     append([]types.PlayerID(nil), m.players...),
		PlayerLimit: m.PlayerLimit,
		CreatedAt:   m.CreatedAt,
	}
}

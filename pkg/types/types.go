package types

import (
	"time"
)

// EntityID identifies an entity within a container's store.
type EntityID uint64

// ComponentID identifies a component column.
type ComponentID uint64

// MatchID identifies a match. Unique within the cluster.
type MatchID uint64

// ContainerID identifies a container. Unique within a node.
type ContainerID uint64

// PlayerID identifies a player. Assigned by the external auth service.
type PlayerID uint64

// Permission controls cross-module access to a component column.
type Permission string

const (
	// PermissionPrivate components are attachable only by a superuser
	// principal. Used for module-isolation flags. Never emitted in snapshots.
	PermissionPrivate Permission = "private"

	// PermissionRead components are world-visible via snapshots but only the
	// owning module may mutate them.
	PermissionRead Permission = "read"

	// PermissionWrite components allow cross-module mutation. This is the
	// default when no explicit permission is declared.
	PermissionWrite Permission = "write"
)

// MatchStatus represents the lifecycle state of a match.
type MatchStatus string

const (
	MatchStatusCreated  MatchStatus = "created"
	MatchStatusRunning  MatchStatus = "running"
	MatchStatusFinished MatchStatus = "finished"
	MatchStatusError    MatchStatus = "error"
)

// Terminal reports whether the status is absorbing.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusFinished || s == MatchStatusError
}

// ContainerStatus represents the lifecycle state of a container.
type ContainerStatus string

const (
	ContainerStatusCreated ContainerStatus = "created"
	ContainerStatusRunning ContainerStatus = "running"
	ContainerStatusPaused  ContainerStatus = "paused"
	ContainerStatusStopped ContainerStatus = "stopped"
)

// NodeStatus represents the cluster-visible state of an engine node.
type NodeStatus string

const (
	NodeStatusHealthy  NodeStatus = "healthy"
	NodeStatusDraining NodeStatus = "draining"
	NodeStatusOffline  NodeStatus = "offline"
)

// Node represents an engine node as seen by the control plane.
type Node struct {
	ID            uint64      `json:"nodeId"`
	Address       string      `json:"advertiseAddress"`
	Status        NodeStatus  `json:"status"`
	MaxMatches    int         `json:"maxMatches"`
	Modules       []string    `json:"modules"`
	Metrics       NodeMetrics `json:"metrics"`
	RegisteredAt  time.Time   `json:"registeredAt"`
	LastHeartbeat time.Time   `json:"lastHeartbeat"`
}

// NodeRegistration is the control plane's answer to node registration:
// the assigned id and the heartbeat cadence the registry expects.
type NodeRegistration struct {
	NodeID              uint64 `json:"nodeId"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

// NodeMetrics is the per-heartbeat resource report from an engine node.
type NodeMetrics struct {
	ContainerCount int     `json:"containerCount"`
	MatchCount     int     `json:"matchCount"`
	CPUUsage       float64 `json:"cpuUsage"`
	MemoryUsed     int64   `json:"memoryUsed"`
	MemoryMax      int64   `json:"memoryMax"`
	Saturation     float64 `json:"saturation"`
}

// Match is the control-plane view of a match.
type Match struct {
	ID          MatchID     `json:"matchId"`
	NodeID      uint64      `json:"nodeId"`
	ContainerID ContainerID `json:"containerId"`
	Modules     []string    `json:"moduleNames"`
	Status      MatchStatus `json:"status"`
	CurrentTick uint64      `json:"currentTick"`
	Players     []PlayerID  `json:"players"`
	PlayerLimit int         `json:"playerLimit"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Scope is a capability carried by a match token.
type Scope string

const (
	ScopeSubmitCommands Scope = "submit_commands"
	ScopeViewSnapshots  Scope = "view_snapshots"
	ScopeReceiveErrors  Scope = "receive_errors"
)

// DefaultScopes are granted to players admitted through the router.
func DefaultScopes() []Scope {
	return []Scope{ScopeSubmitCommands, ScopeViewSnapshots, ScopeReceiveErrors}
}

// MatchToken is a match-scoped credential issued at player admission.
type MatchToken struct {
	ID          string      `json:"id"`
	MatchID     MatchID     `json:"matchId"`
	ContainerID ContainerID `json:"containerId,omitempty"`
	PlayerID    PlayerID    `json:"playerId"`
	PlayerName  string      `json:"playerName"`
	Scopes      []Scope     `json:"scopes"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	RevokedAt   *time.Time  `json:"revokedAt,omitempty"`
}

// HasScope reports whether the token carries the given scope.
func (t *MatchToken) HasScope(s Scope) bool {
	for _, have := range t.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// Principal is the authenticated identity attached to every operation.
// Superuser principals are minted in-process for the built-in spawn and
// flag-attachment paths and are never exposed externally.
type Principal struct {
	PlayerID  PlayerID
	Name      string
	Superuser bool
	Token     *MatchToken
}

// SuperuserPrincipal returns the in-process privileged principal.
func SuperuserPrincipal() Principal {
	return Principal{Name: "system", Superuser: true}
}

// Snapshot is the authoritative world state of one match at one tick.
// Columnar: the i-th element of every component array within a module refers
// to the same entity slot.
type Snapshot struct {
	MatchID MatchID          `json:"matchId"`
	Tick    uint64           `json:"tick"`
	Modules []ModuleSnapshot `json:"modules"`
}

// ModuleSnapshot carries the columns of one module.
type ModuleSnapshot struct {
	Name       string            `json:"name"`
	Version    string            `json:"version"`
	Components []ComponentColumn `json:"components"`
}

// ComponentColumn is one component's values aligned by entity slot.
type ComponentColumn struct {
	Name   string    `json:"name"`
	Values []float32 `json:"values"`
}

// LegacySnapshot is the nested map form emitted for older consumers.
type LegacySnapshot struct {
	MatchID MatchID                         `json:"matchId"`
	Tick    uint64                          `json:"tick"`
	Data    map[string]map[string][]float32 `json:"data"`
}

// DeltaSnapshot is the minimal change set between two ticks of one match.
type DeltaSnapshot struct {
	MatchID  MatchID       `json:"matchId"`
	FromTick uint64        `json:"fromTick"`
	ToTick   uint64        `json:"toTick"`
	Resync   bool          `json:"resync,omitempty"`
	Modules  []ModuleDelta `json:"modules"`
}

// ModuleDelta carries one module's changes. Components is populated only
// when the module has no counterpart in the prior snapshot, so a consumer
// can seed its columns before applying the change set.
type ModuleDelta struct {
	Name       string        `json:"name"`
	Version    string        `json:"version,omitempty"`
	Components []string      `json:"components,omitempty"`
	Added      []EntityID    `json:"added,omitempty"`
	Removed    []EntityID    `json:"removed,omitempty"`
	Changed    []ValueChange `json:"changed,omitempty"`
}

// ValueChange is a single cell mutation at a stable entity index.
type ValueChange struct {
	Index     int      `json:"index"`
	Component string   `json:"component"`
	Value     float32  `json:"value"`
	EntityID  EntityID `json:"entityId"`
}

// ClusterStatus is the control plane health overview.
type ClusterStatus struct {
	TotalNodes        int     `json:"totalNodes"`
	HealthyNodes      int     `json:"healthyNodes"`
	DrainingNodes     int     `json:"drainingNodes"`
	TotalCapacity     int     `json:"totalCapacity"`
	UsedCapacity      int     `json:"usedCapacity"`
	AverageSaturation float64 `json:"averageSaturation"`
}

// RouteRequest asks the router to place a new match.
type RouteRequest struct {
	Modules         []string `json:"modules"`
	PreferredNodeID *uint64  `json:"preferredNodeId,omitempty"`
	PlayerLimit     int      `json:"playerLimit,omitempty"`
	AutoStart       bool     `json:"autoStart,omitempty"`
}

// RouteResult reports where a match was placed.
type RouteResult struct {
	MatchID     MatchID     `json:"matchId"`
	NodeID      uint64      `json:"nodeId"`
	Address     string      `json:"advertiseAddress"`
	ContainerID ContainerID `json:"containerId"`
	Status      MatchStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// JoinRequest asks to admit a player to an existing match.
type JoinRequest struct {
	PlayerID   PlayerID `json:"playerId"`
	PlayerName string   `json:"playerName"`
	ValidFor   string   `json:"validFor,omitempty"`
}

// JoinResult is returned to an admitted player.
type JoinResult struct {
	MatchID        MatchID   `json:"matchId"`
	PlayerID       PlayerID  `json:"playerId"`
	PlayerName     string    `json:"playerName"`
	MatchToken     string    `json:"matchToken"`
	CommandURL     string    `json:"commandWebSocketUrl"`
	SnapshotURL    string    `json:"snapshotWebSocketUrl"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

// ErrorSource says which pipeline stage produced an error record.
type ErrorSource string

const (
	ErrorSourceCommand ErrorSource = "command"
	ErrorSourceSystem  ErrorSource = "system"
)

// ErrorRecord is a captured per-command or per-system failure. Records are
// kept in a bounded per-match ring and streamed to receive_errors-scoped
// subscribers; they never abort the tick that produced them.
type ErrorRecord struct {
	MatchID MatchID     `json:"matchId"`
	Tick    uint64      `json:"tick"`
	Source  ErrorSource `json:"source"`
	Name    string      `json:"name"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

/*
Package types defines the core data structures used throughout Lightning.

This package contains all fundamental types that represent Lightning's
domain model, including entities, matches, containers, nodes, snapshots,
and tokens. These types are shared by the engine node and the control
plane for state management and API communication.

# Architecture

The types package is the foundation of Lightning's data model. It defines:

  - Identity types (EntityID, MatchID, ContainerID, PlayerID)
  - Component permissions (private, read, write)
  - Lifecycle statuses (matches, containers, nodes)
  - Cluster topology (Node, NodeMetrics, ClusterStatus)
  - Wire forms (Snapshot, DeltaSnapshot, LegacySnapshot)
  - Credentials (MatchToken, Scope, Principal)
  - Routing requests and results (RouteRequest, JoinResult)
  - Captured execution failures (ErrorRecord)

All types are designed to be:
  - Serializable (JSON for storage and the HTTP/WebSocket APIs)
  - Immutable where possible (use new instances for updates)
  - Self-documenting (clear field names and comments)
  - Validated (typed string constants for enums)

# Core Types

Identity:
  - EntityID: an entity slot within a container's store
  - MatchID: cluster-unique match identity, minted by the control plane
  - ContainerID: node-local simulation container identity
  - PlayerID: player identity assigned by the external auth service

Lifecycle:
  - MatchStatus: created, running, finished, error; the last two are
    absorbing (MatchStatus.Terminal)
  - ContainerStatus: created, running, paused, stopped
  - NodeStatus: healthy, draining, offline

World state:
  - Snapshot: columnar per-module world state at one tick; the i-th
    element of every component array within a module refers to the same
    entity slot
  - DeltaSnapshot: minimal change set between two consecutive ticks
  - LegacySnapshot: nested map form for older consumers

Credentials:
  - MatchToken: match-scoped credential issued at player admission
  - Scope: submit_commands, view_snapshots, receive_errors
  - Principal: the authenticated identity attached to every operation;
    superuser principals are minted in-process and never leave the node

# State Machine

Matches follow a simple lifecycle:

	CREATED → RUNNING → FINISHED
	    ↓        ↓
	  ERROR    ERROR

FINISHED and ERROR are absorbing: no further transitions, commands, or
snapshots. Transitions to the current status are idempotent no-ops.

# Integration Points

This package integrates with:

  - pkg/ecs: EntityID, ComponentID, and Permission gate the store
  - pkg/engine: container and match lifecycle over these statuses
  - pkg/snapshot: builds the Snapshot and DeltaSnapshot wire forms
  - pkg/cluster: Node and Match records on the control plane
  - pkg/auth: MatchToken minting, validation, and scopes
  - pkg/storage: persists matches, snapshots, and tokens as JSON
  - pkg/api: serves all of the above over HTTP and WebSocket

# Thread Safety

All types in this package are plain data:
  - Read-safe: can be read concurrently from multiple goroutines
  - Write-unsafe: mutations must be synchronized by callers

The store (pkg/ecs) and registry (pkg/cluster) layers own all
synchronization for shared state.
*/
package types

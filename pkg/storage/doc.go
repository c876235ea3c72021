// Package storage persists control plane state (matches, frozen
// snapshots, match tokens) in an embedded BoltDB database.
package storage

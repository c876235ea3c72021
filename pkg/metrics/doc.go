// Package metrics exposes Prometheus instrumentation and the health/ready
// endpoints shared by both Lightning daemons.
package metrics

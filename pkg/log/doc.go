// Package log provides structured logging for Lightning built on zerolog.
//
// Init configures the global logger once at daemon startup; packages obtain
// child loggers via WithComponent and the id helpers so every line carries
// the component, node, container, and match fields needed to follow a tick
// across subsystems.
package log

// Package command defines command schemas, boundary coercion, and the
// bounded per-match FIFO drained by the tick scheduler.
package command

/*
Package stream fans completed ticks out to streaming subscribers.

The hub is the engine's Publisher: the tick thread offers each match's
snapshot (and delta) to every subscriber without blocking. Full-mode
subscribers get last-value-wins coalescing. Delta-mode subscribers get a
bounded queue of change sets; on overflow the backlog collapses to a
single full snapshot flagged resync, after which deltas resume. A
subscriber that never drains is closed as a SLOW_CONSUMER.

Error records reach only subscribers whose token carries the
receive_errors scope, and are dropped rather than queued on overflow.
*/
package stream

/*
Package snapshot builds the authoritative per-match world state published
after every tick.

A full snapshot scans, per enabled module, the entities carrying that
module's flag component within the match and emits one column per exported
component, aligned by ascending entity id. The ascending order is stable
across ticks, which is what makes deltas cheap: Diff matches slots by
entity id and emits added/removed entity sets plus cell-level changes, and
Apply reconstructs the next snapshot from a prior one, closing the
round-trip law used by the delta subscribers' resync path.

PRIVATE components never leave the engine. When a snapshot is scoped to a
player, modules without world-visible (READ) columns shrink to the player's
own entities, and non-READ cells of foreign entities are masked to absent.
*/
package snapshot

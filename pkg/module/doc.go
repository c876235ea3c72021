/*
Package module implements the per-container module runtime.

A module is a self-describing unit contributing components, commands,
systems, an isolation flag component, and optional exports. Compound
modules declare requirements on other modules; a resolved version satisfies
a requirement when the major matches and the minor is at least the required
minor.

Enabling runs in two passes to avoid constructor-time cycles: descriptors
and their components register first, then requirements and exports bind,
with a topological check that fails cycles as UNRESOLVABLE_MODULES. The
same topological order drives system execution each tick.

The runtime also owns the superuser spawn path: entity creation attaches
the built-in MATCH_ID and ENTITY_ID columns plus every enabled module's
PRIVATE flag component, giving each module a cheap isolation scan.
*/
package module
